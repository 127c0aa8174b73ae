package extraction

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ExtractorOptions contains the dependencies for the Extractor
type ExtractorOptions struct {
	Client *Client
	Logger *zap.Logger
}

// Extractor runs one round-trip to the completion endpoint and validates the
// reply. A malformed reply is an error, never a partial write.
type Extractor struct {
	ExtractorOptions
}

// NewExtractor returns a document Extractor
func NewExtractor(option ExtractorOptions) (*Extractor, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Extractor{
		ExtractorOptions: option,
	}, nil
}

// Extract pulls dates, clauses, and pricing out of the document text
func (x *Extractor) Extract(ctx context.Context, documentText string) (*Extraction, error) {
	if len(documentText) == 0 {
		return nil, fmt.Errorf("empty documentText is invalid")
	}

	reply, err := x.Client.Complete(ctx, systemPrompt, BuildPrompt(documentText))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot run extraction")
	}

	result, err := ParseReply(reply)
	if err != nil {
		x.Logger.Error("Model reply failed validation",
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}
