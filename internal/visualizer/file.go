package visualizer

import (
	"html/template"
	"net/http"

	"github.com/zeitstein/REPLey/internal/download"
)

// FileDownloadPath is the side-channel route of the file visualizer, relative to the
// host's prefix.
const FileDownloadPath = "/file-visualizer/download"

// File offers a download.Resource to the browser through a single-use token.
type File struct {
	store   *download.Store
	observe download.ServeFunc
}

// NewFile builds the file strategy over the shared token store. observe may be nil.
func NewFile(store *download.Store, observe download.ServeFunc) *File {
	return &File{store: store, observe: observe}
}

func (f *File) Label() string   { return "file" }
func (f *File) Precedence() int { return PrecedenceAuthoritative }

func (f *File) Supports(v any) bool {
	_, ok := v.(download.Resource)
	return ok
}

func (f *File) Render(rc *RenderContext, v any) (template.HTML, error) {
	res := v.(download.Resource)
	if rc.Downloads == nil {
		rc.Downloads = f.store
	}
	link, err := rc.DownloadURL(res)
	if err != nil {
		return "", err
	}

	size := int64(-1)
	if sz, ok := res.(download.Sizer); ok {
		if n, err := sz.Size(); err == nil {
			size = n
		}
	}
	return execute("file", struct {
		Name string
		URL  string
		Size int64
	}{res.Name(), link, size})
}

// Handler serves GET <prefix>/file-visualizer/download?id=<token>.
func (f *File) Handler() (string, http.Handler) {
	if f.store == nil {
		return FileDownloadPath, nil
	}
	return FileDownloadPath, download.Handler(f.store, f.observe)
}
