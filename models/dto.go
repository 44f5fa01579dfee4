package models

type UploadUrlRequestIn struct {
	FileName string `json:"file_name" validate:"required,max=200"`
	// person or garment
	Role string `json:"role" validate:"required,oneof=person garment"`
}

type UploadUrlRequestOut struct {
	FileKey   string `json:"file_key"`
	UploadUrl string `json:"upload_url"`
}
