package envelope

import (
	"strings"

	"orderpush/internal/types"
)

const documentsMarker = "/documents/"

// documentPath returns the part of a resource name after the documents
// marker, e.g. "orders/ABC-123" for
// "projects/p/databases/(default)/documents/orders/ABC-123".
func documentPath(resource string) (string, error) {
	_, path, found := strings.Cut(resource, documentsMarker)
	if !found {
		return "", invalidResource(resource, "missing "+documentsMarker+" marker")
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return "", invalidResource(resource, "no document path after marker")
	}
	return path, nil
}

// DocumentID extracts the last path segment of a document resource name.
func DocumentID(resource string) (string, error) {
	path, err := documentPath(resource)
	if err != nil {
		return "", err
	}
	return path[strings.LastIndexByte(path, '/')+1:], nil
}

// ParentCollection returns the ID of the collection directly containing the
// document, which for subcollection documents is the innermost collection.
func ParentCollection(resource string) (string, error) {
	path, err := documentPath(resource)
	if err != nil {
		return "", err
	}
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return "", invalidResource(resource, "document path has no collection")
	}
	return segments[len(segments)-2], nil
}

func invalidResource(resource, reason string) error {
	return types.NewAppError(types.ErrCodeResourceNameInvalid, "invalid document resource name: "+reason, nil).
		WithDetails(map[string]any{"resource": resource})
}
