package domain

// CandidateFile is a user-selected payload waiting for validation and upload.
type CandidateFile struct {
	Name      string
	MediaType string
	Data      []byte
}

// LocalPreview references a local copy of a CandidateFile for display.
type LocalPreview struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (p LocalPreview) IsZero() bool {
	return p.Key == "" && p.URL == ""
}

// AssetIdentifier is the server-side name assigned to an uploaded file.
type AssetIdentifier string

// ResultLocator is the path returned by the service for a processed result.
type ResultLocator string
