package classifier

import (
	"context"

	"txcat/internal/log"
)

type Result struct {
	Description string
	Label       string
}

// ClassifyAll classifies each description independently. Failed items are
// logged and left out, so the result may be shorter than the input.
func ClassifyAll(ctx context.Context, c Classifier, descriptions []string, logger *log.Logger) []Result {
	results := make([]Result, 0, len(descriptions))
	for _, d := range descriptions {
		if ctx.Err() != nil {
			break
		}
		label, err := c.Classify(ctx, d)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to classify description",
				log.FieldDescription, d,
				log.FieldError, err)
			continue
		}
		results = append(results, Result{Description: d, Label: label})
	}
	return results
}
