package convert

import (
	"github.com/sirupsen/logrus"

	"github.com/born-ml/nnexport/internal/blobstore"
)

// Options configures a conversion.
type Options struct {
	// Prefix is prepended to every operation and blob name.
	Prefix string

	// Outputs names the layers that must end with unity gain.
	// Nil means the outputs declared by the graph.
	Outputs []string

	// Store receives the weight blobs. Nil creates a new store.
	Store *blobstore.Store

	// Logger receives debug traces of the conversion.
	// Nil means the logrus standard logger.
	Logger logrus.FieldLogger
}

// DefaultOptions returns the default conversion options.
func DefaultOptions() Options {
	return Options{
		Logger: logrus.StandardLogger(),
	}
}
