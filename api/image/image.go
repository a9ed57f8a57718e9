// Package image exposes the catalog of base image tags guests can be
// provisioned from.
package image

import (
	"sort"

	"github.com/NadimPy/virtualization-implementation/config"
)

// Image is one provisionable base image.
type Image struct {
	Tag      string `json:"image_type"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// List returns the known image tags with their default login users, sorted
// by tag for stable output.
func List() []Image {
	var images []Image

	for tag, img := range config.Images {
		images = append(images, Image{
			Tag:      tag,
			Name:     img.Name,
			Username: img.Username,
		})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Tag < images[j].Tag
	})

	return images
}

// Valid reports whether the tag names a known image.
func Valid(tag string) bool {
	_, ok := config.Images[tag]
	return ok
}

// Username returns the default login user for a tag, or empty if unknown.
func Username(tag string) string {
	return config.Images[tag].Username
}

// Name returns the display name for a tag, or empty if unknown.
func Name(tag string) string {
	return config.Images[tag].Name
}
