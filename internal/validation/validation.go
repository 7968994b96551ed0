package validation

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"geotig/internal/errors"
	"geotig/shared/types"
)

const maxBodySize = 1 << 20

type Validator interface {
	Validate() error
}

// DecodeJSON reads the request body into v. An empty body leaves v as it
// is. If v is a Validator it is validated afterwards.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.ValidationError("invalid request body", err.Error())
	}
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}

// ValidatePath rejects empty segments and segments containing "/".
func ValidatePath(path []string) error {
	for i, seg := range path {
		if seg == "" {
			return errors.ValidationError("empty path segment", map[string]int{"index": i})
		}
		if strings.Contains(seg, "/") {
			return errors.ValidationError(fmt.Sprintf("path segment %q contains '/'", seg), map[string]int{"index": i})
		}
	}
	return nil
}

func ValidateStageRequest(req *shared.StageRequest) error {
	return ValidatePath(req.Prefix)
}

func ValidateCommitRequest(req *shared.CommitRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return errors.ValidationError("commit message is required", nil)
	}
	return nil
}
