package build

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// NewSiteHandler serves the static build output under root. With spa set,
// GET requests for missing paths without a file extension get index.html.
// With noStore set every response carries Cache-Control: no-store.
func NewSiteHandler(root string, spa, noStore bool) http.Handler {
	files := http.FileServer(http.Dir(root))
	index := filepath.Join(root, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if noStore {
			w.Header().Set("Cache-Control", "no-store")
		}

		if spa && (r.Method == http.MethodGet || r.Method == http.MethodHead) && path.Ext(r.URL.Path) == "" {
			name := filepath.Join(root, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
			if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
				serveIndex(w, r, index)
				return
			}
		}

		files.ServeHTTP(w, r)
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request, index string) {
	f, err := os.Open(index)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}
