package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type jsonDecodeOptions struct {
	allowEmpty       bool
	disallowUnknowns bool
}

func decodeJSONBody(body io.Reader, dst any, opts jsonDecodeOptions) error {
	if body == nil {
		if opts.allowEmpty {
			return nil
		}
		return io.EOF
	}
	dec := json.NewDecoder(body)
	if opts.disallowUnknowns {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if opts.allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unexpected trailing JSON value")
}

func requireMethod(r *http.Request, method string) error {
	if r.Method == method {
		return nil
	}
	return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: fmt.Sprintf("use %s", method)}
}

// readJSON decodes a POST body capped at the configured size. Unknown fields
// are ignored.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	if err := requireMethod(r, http.MethodPost); err != nil {
		return err
	}
	body := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	defer body.Close()
	if err := decodeJSONBody(body, dst, jsonDecodeOptions{allowEmpty: allowEmpty}); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: err.Error()}
	}
	return nil
}
