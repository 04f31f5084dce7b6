package hooks

import (
	"github.com/MimeLyc/webp-autogen/internal/convert"
	"github.com/MimeLyc/webp-autogen/internal/rewrite"
)

// Attachment is what the upload pipeline passes through the metadata chain.
type Attachment struct {
	ID           string           `json:"id"`
	AttachedFile string           `json:"attached_file"`
	Metadata     convert.Metadata `json:"metadata"`
}

// Registry groups the filter chains the service listens on.
type Registry struct {
	AttachmentMetadata *Chain[Attachment]
	ImageSrc           *Chain[rewrite.ImageSource]
	Content            *Chain[string]
}

func NewRegistry() *Registry {
	return &Registry{
		AttachmentMetadata: NewChain[Attachment]("attachment_metadata"),
		ImageSrc:           NewChain[rewrite.ImageSource]("image_src"),
		Content:            NewChain[string]("the_content"),
	}
}
