package core

import (
	"fmt"
)

// Byte-length limits on auction metadata.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 1000
	MaxCategoryLength    = 50
	MaxImageURLLength    = 200
	MaxTags              = 10
	MaxTagLength         = 30
)

// Validate checks every metadata field against its length bound.
func (m Metadata) Validate() error {
	if len(m.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d bytes", ErrInvalidMetadata, MaxTitleLength)
	}
	if len(m.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d bytes", ErrInvalidMetadata, MaxDescriptionLength)
	}
	if len(m.Category) > MaxCategoryLength {
		return fmt.Errorf("%w: category exceeds %d bytes", ErrInvalidMetadata, MaxCategoryLength)
	}
	if len(m.ImageURL) > MaxImageURLLength {
		return fmt.Errorf("%w: image url exceeds %d bytes", ErrInvalidMetadata, MaxImageURLLength)
	}
	if len(m.Tags) > MaxTags {
		return fmt.Errorf("%w: more than %d tags", ErrInvalidMetadata, MaxTags)
	}
	for i, tag := range m.Tags {
		if len(tag) > MaxTagLength {
			return fmt.Errorf("%w: tag %d exceeds %d bytes", ErrInvalidMetadata, i, MaxTagLength)
		}
	}
	return nil
}
