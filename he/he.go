package he

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HTTPError probably represents the wrong abstraction.
type HTTPError struct {
	code int
	err  error
}

func HTTPCodedErrorf(code int, f string, more ...any) *HTTPError {
	return &HTTPError{
		code: code,
		err:  fmt.Errorf(f, more...),
	}
}

func New(code int, err error) *HTTPError {
	return &HTTPError{
		code: code,
		err:  err,
	}
}

func (e *HTTPError) Error() string {
	return e.err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.err
}

func (e *HTTPError) Code() int {
	return e.code
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// SendErrorToHTTPClient sends err as a JSON error.  If there is an HTTPError
// in the chain, we can include a better response code; otherwise, client
// gets 500 and it's on us.
func SendErrorToHTTPClient(w http.ResponseWriter, while string, err error) {
	code := http.StatusInternalServerError
	if herr := (*HTTPError)(nil); errors.As(err, &herr) {
		code = herr.code
	}
	txt := fmt.Sprintf("can't %s: %v", while, err)
	if code >= 500 {
		log.Error().Err(err).Str("while", while).Int("code", code).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("while", while).Int("code", code).Msg("request rejected")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(&errorBody{Error: txt, Code: code})
}
