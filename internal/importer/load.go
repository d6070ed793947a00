package importer

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"brazekit/internal/model"
)

var (
	// ErrMissingInput means the export path or the Braze credentials were not given.
	ErrMissingInput = errors.New("missing input")
	ErrNotFound     = errors.New("export file not found")
	ErrParse        = errors.New("export file is not valid JSON")
)

// Usage is attached as a hint to ErrMissingInput.
const Usage = `Usage: brazeimport <export.json> [--api-key=KEY] [--endpoint=URL] [--external-id=UUID]
  --external-id=UUID  Use this Braze user ID (e.g. your current UUID after merge). Default: from JSON.
  Or set BRAZE_REST_API_KEY, BRAZE_REST_ENDPOINT (e.g. https://rest.fra-02.braze.eu)`

// SelectPath picks the export path from positional arguments: the first one
// ending in .json, otherwise the first one.
func SelectPath(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(a), ".json") {
			return a
		}
	}
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			return a
		}
	}
	return ""
}

// Load reads and decodes an export document. A missing orders field is an empty list.
func Load(path string) (model.Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return model.Export{}, errors.Wrapf(ErrNotFound, "%s", path)
		}
		return model.Export{}, errors.Wrapf(err, "read %s", path)
	}
	var doc model.Export
	if err := json.Unmarshal(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), &doc); err != nil {
		return model.Export{}, errors.Mark(errors.Wrapf(err, "parse %s", path), ErrParse)
	}
	return doc, nil
}
