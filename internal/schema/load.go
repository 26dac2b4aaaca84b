package schema

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/dbslice/dbslice/pkg/errors"
)

// LoadFile reads a schema description document from path (JSON, the
// wire format a dump/restore schema file is authored in) and builds a
// Schema from it.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSchemaError, fmt.Sprintf("failed to read schema file %q", path), err)
	}

	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, fmt.Sprintf("failed to parse schema file %q", path), err)
	}

	return Build(desc)
}
