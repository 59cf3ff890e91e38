package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// Path is the submission endpoint relative to the API base.
const Path = "/ttpapi1/repo/submit"

// StatusOK is the status of an accepted submission.
const StatusOK = "ok"

// ErrRejected wraps any status other than StatusOK.
var ErrRejected = errors.New("submission rejected")

// Request is the body of a submit call.
type Request struct {
	DocID domain.DocumentID `json:"doc_id"`
}

// Response carries StatusOK or a short reason.
type Response struct {
	Status string `json:"status"`
}

// HTTP submits documents to the repo server API.
type HTTP struct {
	Base     string
	HTTP     *http.Client
	Identity domain.IdentityProvider // optional; signs a bearer token when set
	Now      func() time.Time
}

// NewHTTP returns a client for the API at base. Requests are signed with ids
// when it is non-nil.
func NewHTTP(base string, ids domain.IdentityProvider) *HTTP {
	return &HTTP{Base: strings.TrimSuffix(base, "/"), HTTP: http.DefaultClient, Identity: ids, Now: time.Now}
}

// Submit posts id and returns the server's status. A status other than
// StatusOK is also reported as an error wrapping ErrRejected.
func (c *HTTP) Submit(ctx context.Context, id domain.DocumentID) (string, error) {
	var token string
	if c.Identity != nil {
		kp, err := c.Identity.EnsureKeypair(ctx)
		if err != nil {
			return "", err
		}
		token, err = NewToken(kp, id, c.Now())
		if err != nil {
			return "", err
		}
	}

	var out Response
	if err := c.post(ctx, Path, Request{DocID: id}, &out, token); err != nil {
		return "", err
	}
	if out.Status != StatusOK {
		return out.Status, fmt.Errorf("%w: %s", ErrRejected, out.Status)
	}
	return out.Status, nil
}

func (c *HTTP) post(ctx context.Context, path string, in any, out any, token string) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("submit post %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var _ domain.Submitter = (*HTTP)(nil)
