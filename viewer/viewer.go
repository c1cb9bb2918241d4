// Package viewer serves dataset samples over HTTP to eyeball the training
// pipeline output: each image next to its edge map after cropping and
// thresholding.
package viewer

import (
	"html/template"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sugarme/hed/dataset"
	"github.com/sugarme/hed/dutil"
)

// PageSize is number of samples per index page.
const PageSize = 20

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h3>{{.Title}}: samples {{.First}}-{{.Last}} of {{.Total}}</h3>
<p>{{if .Prev}}<a href="/page/{{.Prev}}">prev</a>{{end}} {{if .Next}}<a href="/page/{{.Next}}">next</a>{{end}}</p>
<table>
{{range .IDs}}<tr>
<td>{{.}}</td>
<td><img src="/sample/{{.}}/image.png"></td>
<td><img src="/sample/{{.}}/edge.png"></td>
</tr>
{{end}}</table>
</body>
</html>
`))

type indexPage struct {
	Title       string
	First, Last int
	Total       int
	Prev, Next  int
	IDs         []int
}

// Server renders samples of one dataset.
type Server struct {
	title string
	ds    dutil.Dataset
	log   logrus.FieldLogger

	// samples are cached so a random crop stays stable between the image and
	// edge requests of one page.
	mu    sync.Mutex
	cache map[int]dataset.Sample
}

// New creates a Server over ds, whose items must be dataset.Sample.
func New(title string, ds dutil.Dataset, logger ...logrus.FieldLogger) *Server {
	var log logrus.FieldLogger = logrus.StandardLogger()
	if len(logger) > 0 {
		log = logger[0]
	}
	return &Server{
		title: title,
		ds:    ds,
		log:   log,
		cache: make(map[int]dataset.Sample),
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", http.RedirectHandler("/page/1", http.StatusFound))
	r.HandleFunc("/page/{page:[0-9]+}", s.Index()).Methods("GET")
	r.HandleFunc("/sample/{id:[0-9]+}/{kind:(?:image|edge)}.png", s.Image()).Methods("GET")

	return r
}

// ListenAndServe serves until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.log.WithField("addr", addr).Infof("serving %d samples at http://%v", s.ds.Len(), addr)
	return http.ListenAndServe(addr, s.Router())
}

// Index is the handler of a page of samples.
func (s *Server) Index() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(mux.Vars(r)["page"])
		total := s.ds.Len()
		pages := (total + PageSize - 1) / PageSize
		if page < 1 || page > pages {
			http.NotFound(w, r)
			return
		}

		p := indexPage{
			Title: s.title,
			First: (page - 1) * PageSize,
			Total: total,
		}
		p.Last = p.First + PageSize - 1
		if p.Last >= total {
			p.Last = total - 1
		}
		for id := p.First; id <= p.Last; id++ {
			p.IDs = append(p.IDs, id)
		}
		if page > 1 {
			p.Prev = page - 1
		}
		if page < pages {
			p.Next = page + 1
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, p); err != nil {
			s.log.WithError(err).Error("rendering index")
		}
	}
}

// Image is the handler returning a sample image or its edge map as PNG.
func (s *Server) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id, err := strconv.Atoi(vars["id"])
		if err != nil || id >= s.ds.Len() {
			http.NotFound(w, r)
			return
		}

		sample, err := s.sample(id)
		if err != nil {
			s.log.WithError(err).WithField("id", id).Error("loading sample")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var img image.Image = sample.Image
		if vars["kind"] == "edge" {
			height, width := sample.Size()
			img = dataset.EdgeImage(sample.Mask, height, width)
		}

		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, img); err != nil {
			s.log.WithError(err).Error("encoding png")
		}
	}
}

func (s *Server) sample(id int) (dataset.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sample, ok := s.cache[id]; ok {
		return sample, nil
	}
	item, err := s.ds.Item(id)
	if err != nil {
		return dataset.Sample{}, err
	}
	sample, ok := item.(dataset.Sample)
	if !ok {
		return dataset.Sample{}, errors.Errorf("unexpected item type %T", item)
	}
	s.cache[id] = sample

	return sample, nil
}
