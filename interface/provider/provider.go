// Package provider fetches auxiliary raster products (water-body
// tiles, DEM patches) from the services that publish them and stages
// them into a local working directory, unpacking archives on the way.
package provider

import (
	"context"
	"fmt"
)

// TileProvider is a source of raster products.
type TileProvider interface {
	// Download fetches the named product into localDir. Archives are
	// unpacked in place. Returns ErrProductNotFound when the provider
	// does not serve this product.
	Download(ctx context.Context, name, localDir string) error
	// Name of the provider
	Name() string
}

// ErrProductNotFound is an error returned when the product is not found or currently unavailable
type ErrProductNotFound struct {
	Product string
}

func (e ErrProductNotFound) Error() string {
	return fmt.Sprintf("Product not found or unavailable: %s", e.Product)
}
