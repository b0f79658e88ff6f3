package download

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"strconv"
)

// TokenParam is the query parameter carrying the download token.
const TokenParam = "id"

// ServeFunc observes each successfully resolved download. err is nil when the whole
// body was delivered.
type ServeFunc func(r Resource, err error)

// Handler streams the resource behind ?id=<token>. Unknown or consumed tokens get a
// bare 404; the token is consumed before any body byte is written.
func Handler(store *Store, observe ServeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		res, ok := store.Resolve(r.URL.Query().Get(TokenParam))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		body, err := res.Open(r.Context())
		if err != nil {
			log.Printf("download %s: open failed: %v", res.Name(), err)
			if errors.Is(err, fs.ErrNotExist) {
				w.WriteHeader(http.StatusNotFound)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
			notify(observe, res, err)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", contentDisposition(res.Name()))
		if sz, ok := res.(Sizer); ok {
			if n, err := sz.Size(); err == nil {
				w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
			}
		}
		w.WriteHeader(http.StatusOK)

		_, err = io.Copy(w, &ctxReader{ctx: r.Context(), r: body})
		if err != nil {
			log.Printf("download %s: transfer aborted: %v", res.Name(), err)
		}
		notify(observe, res, err)
	})
}

func notify(observe ServeFunc, r Resource, err error) {
	if observe != nil {
		observe(r, err)
	}
}

func contentDisposition(name string) string {
	if name == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// ctxReader stops a transfer once the client has gone away.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
