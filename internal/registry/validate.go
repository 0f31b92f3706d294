package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BadIndexError reports an index URL that does not serve the simple API.
type BadIndexError struct {
	URL string
	Err error
}

func (e *BadIndexError) Error() string {
	return fmt.Sprintf("bad index url %s: %v", e.URL, e.Err)
}

func (e *BadIndexError) Unwrap() error {
	return e.Err
}

// probeProject is requested to tell a simple index from anything else.
const probeProject = "pip"

// ValidateIndexURL checks that indexURL serves a simple API page for pip.
func ValidateIndexURL(ctx context.Context, client *http.Client, indexURL string) error {
	if !strings.HasPrefix(indexURL, "http://") && !strings.HasPrefix(indexURL, "https://") {
		return &BadIndexError{URL: indexURL, Err: errors.New("scheme must be http or https")}
	}

	pages, err := newSimpleClient(client, 1)
	if err != nil {
		return err
	}
	files, err := pages.Files(ctx, indexURL, probeProject)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &BadIndexError{URL: indexURL, Err: err}
	}
	if !hasArtifact(files) {
		return &BadIndexError{URL: indexURL, Err: errors.New("no distribution files listed")}
	}
	return nil
}

func hasArtifact(files []ProjectFile) bool {
	for _, f := range files {
		if _, ok := ParseFilename(probeProject, f.Filename); ok {
			return true
		}
	}
	return false
}
