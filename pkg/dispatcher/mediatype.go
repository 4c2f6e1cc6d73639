package dispatcher

import (
	"mime"
	"strings"
)

// ValidateMediaType accepts application/json and any +json subtype. Parameters
// such as charset are ignored.
func ValidateMediaType(contentType string) error {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return &Error{Kind: KindUnsupportedMediaType, Detail: "content type is required"}
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return &Error{Kind: KindUnsupportedMediaType, Detail: "content type is invalid"}
	}

	if mediaType == "application/json" || (strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")) {
		return nil
	}

	return &Error{Kind: KindUnsupportedMediaType, Detail: mediaType + " is not JSON"}
}
