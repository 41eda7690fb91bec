package workflow

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/fetcher"
	"github.com/sells-group/dspace-submission-composer/internal/store"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

// Env holds the clients and settings workflow variants read from.
type Env struct {
	Config *config.Config
	S3     s3.Client
	Store  store.Store
	// Metadata and Content fetch remote source records and files.
	Metadata fetcher.Fetcher
	Content  fetcher.Fetcher
}

// Registry maps workflow names to their implementations.
type Registry struct {
	workflows map[string]Workflow
	order     []string
}

// NewRegistry creates a registry populated with every workflow variant.
func NewRegistry(env Env) (*Registry, error) {
	r := &Registry{workflows: make(map[string]Workflow)}

	simple := transform.SimpleCSV()
	if path := env.Config.Workflow.MappingFile; path != "" {
		m, err := transform.LoadMapping(path)
		if err != nil {
			return nil, eris.Wrap(err, "workflow: load mapping")
		}
		simple = m.Transformer()
	}

	r.Register(NewSimpleCSV(env, simple))
	r.Register(NewSCCS(env))
	r.Register(NewArchivesSpace(env))
	r.Register(NewOpenCourseWare(env))
	r.Register(NewWiley(env))

	return r, nil
}

// Register adds a workflow to the registry.
func (r *Registry) Register(w Workflow) {
	name := w.Name()
	if _, ok := r.workflows[name]; !ok {
		r.order = append(r.order, name)
	}
	r.workflows[name] = w
}

// Get returns a workflow by name.
func (r *Registry) Get(name string) (Workflow, error) {
	w, ok := r.workflows[name]
	if !ok {
		names := append([]string(nil), r.order...)
		sort.Strings(names)
		return nil, eris.Errorf("workflow: unknown workflow %q (valid: %v)", name, names)
	}
	return w, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
