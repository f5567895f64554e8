package models

type UploadResult struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
}
