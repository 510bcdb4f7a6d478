// Package erptest provides an in-memory stand-in for the ERP REST client.
package erptest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ozerpan/ercom-sync/internal/erp"
)

// Fake stores documents in memory. Names are taken from the "name" field,
// then the naming field of the doctype, then a per-doctype counter.
type Fake struct {
	mu      sync.Mutex
	docs    map[string]map[string]erp.Doc
	counter map[string]int
	files   map[string][]byte

	// BeforeWrite runs on every inserted or saved doc of the doctype, under
	// the fake's lock. Tests use it to emulate server-side computed fields.
	BeforeWrite map[string]func(erp.Doc)
	// Methods answers Invoke calls.
	Methods map[string]func(args map[string]any) (erp.Outcome, error)
	// FailOn makes writes of a doctype fail.
	FailOn map[string]error

	Calls []string
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		docs:        map[string]map[string]erp.Doc{},
		counter:     map[string]int{},
		files:       map[string][]byte{},
		BeforeWrite: map[string]func(erp.Doc){},
		Methods:     map[string]func(map[string]any) (erp.Outcome, error){},
		FailOn:      map[string]error{},
	}
}

var namingField = map[string]string{
	"Customer": "customer_name",
	"Item":     "item_code",
	"Country":  "country_name",
	"UOM":      "uom_name",
}

func clone(d erp.Doc) erp.Doc {
	raw, _ := json.Marshal(d)
	var out erp.Doc
	_ = json.Unmarshal(raw, &out)
	return out
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// Put stores doc directly, bypassing hooks.
func (f *Fake) Put(doc erp.Doc) erp.Doc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(clone(doc))
}

func (f *Fake) put(doc erp.Doc) erp.Doc {
	doctype := doc.Doctype()
	if f.docs[doctype] == nil {
		f.docs[doctype] = map[string]erp.Doc{}
	}
	name := doc.Name()
	if name == "" {
		if field, ok := namingField[doctype]; ok {
			name = doc.Str(field)
		}
	}
	if name == "" {
		f.counter[doctype]++
		name = fmt.Sprintf("%s-%04d", strings.ToUpper(strings.ReplaceAll(doctype, " ", "-")), f.counter[doctype])
	}
	doc["name"] = name
	if _, ok := doc["docstatus"]; !ok {
		doc["docstatus"] = float64(0)
	}
	f.docs[doctype][name] = doc
	return clone(doc)
}

// Doc returns a stored document or nil.
func (f *Fake) Doc(doctype, name string) erp.Doc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[doctype][name]; ok {
		return clone(d)
	}
	return nil
}

// All returns the documents of a doctype sorted by name.
func (f *Fake) All(doctype string) []erp.Doc {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.docs[doctype]))
	for n := range f.docs[doctype] {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]erp.Doc, 0, len(names))
	for _, n := range names {
		out = append(out, clone(f.docs[doctype][n]))
	}
	return out
}

// PutFile registers downloadable content.
func (f *Fake) PutFile(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = data
}

func matches(d erp.Doc, filters erp.Filters) bool {
	for k, want := range filters {
		if pair, ok := want.([]any); ok && len(pair) == 2 {
			want = pair[1]
		}
		if d.Str(k) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (f *Fake) find(doctype string, filters erp.Filters) []erp.Doc {
	var out []erp.Doc
	for _, d := range f.docs[doctype] {
		if matches(d, filters) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func notFound(doctype, name string) error {
	return &erp.RemoteError{Status: 404, ExcType: "DoesNotExistError", Message: fmt.Sprintf("%s %s not found", doctype, name)}
}

func (f *Fake) GetDoc(_ context.Context, doctype, name string) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get " + doctype + " " + name)
	d, ok := f.docs[doctype][name]
	if !ok {
		return nil, notFound(doctype, name)
	}
	return clone(d), nil
}

// GetDocFresh is GetDoc; the fake keeps no cache.
func (f *Fake) GetDocFresh(ctx context.Context, doctype, name string) (erp.Doc, error) {
	return f.GetDoc(ctx, doctype, name)
}

func (f *Fake) GetList(_ context.Context, doctype string, q erp.ListQuery) ([]erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := f.find(doctype, q.Filters)
	if q.Limit > 0 && len(found) > q.Limit {
		found = found[:q.Limit]
	}
	out := make([]erp.Doc, len(found))
	for i, d := range found {
		out[i] = clone(d)
	}
	return out, nil
}

func (f *Fake) Exists(ctx context.Context, doctype string, filters erp.Filters) (string, error) {
	docs, err := f.GetList(ctx, doctype, erp.ListQuery{Filters: filters, Limit: 1})
	if err != nil || len(docs) == 0 {
		return "", err
	}
	return docs[0].Name(), nil
}

func (f *Fake) FindDoc(ctx context.Context, doctype string, filters erp.Filters) (erp.Doc, error) {
	name, err := f.Exists(ctx, doctype, filters)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, notFound(doctype, fmt.Sprint(map[string]any(filters)))
	}
	return f.GetDoc(ctx, doctype, name)
}

func (f *Fake) write(doc erp.Doc, merge bool) (erp.Doc, error) {
	doctype := doc.Doctype()
	if err := f.FailOn[doctype]; err != nil {
		return nil, err
	}
	doc = clone(doc)
	if merge {
		existing, ok := f.docs[doctype][doc.Name()]
		if !ok {
			return nil, notFound(doctype, doc.Name())
		}
		merged := clone(existing)
		for k, v := range doc {
			merged[k] = v
		}
		doc = merged
	}
	if hook := f.BeforeWrite[doctype]; hook != nil {
		hook(doc)
	}
	return f.put(doc), nil
}

func (f *Fake) Insert(_ context.Context, doc erp.Doc) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("insert " + doc.Doctype())
	if name := doc.Name(); name != "" {
		if _, exists := f.docs[doc.Doctype()][name]; exists {
			return nil, &erp.RemoteError{Status: 409, ExcType: "DuplicateEntryError", Message: name + " already exists"}
		}
	}
	return f.write(doc, false)
}

func (f *Fake) Save(_ context.Context, doc erp.Doc) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("save " + doc.Doctype() + " " + doc.Name())
	return f.write(doc, true)
}

func (f *Fake) SetValue(_ context.Context, doctype, name, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set " + doctype + " " + name + " " + field)
	_, err := f.write(erp.Doc{"doctype": doctype, "name": name, field: value}, true)
	return err
}

func (f *Fake) Submit(_ context.Context, doc erp.Doc) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("submit " + doc.Doctype() + " " + doc.Name())
	doc = clone(doc)
	doc["docstatus"] = float64(1)
	if doc.Name() == "" {
		return f.write(doc, false)
	}
	if _, ok := f.docs[doc.Doctype()][doc.Name()]; !ok {
		return f.write(doc, false)
	}
	return f.write(doc, true)
}

func (f *Fake) Cancel(_ context.Context, doctype, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel " + doctype + " " + name)
	_, err := f.write(erp.Doc{"doctype": doctype, "name": name, "docstatus": float64(2)}, true)
	return err
}

func (f *Fake) Delete(_ context.Context, doctype, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + doctype + " " + name)
	if _, ok := f.docs[doctype][name]; !ok {
		return notFound(doctype, name)
	}
	delete(f.docs[doctype], name)
	return nil
}

func (f *Fake) Invoke(_ context.Context, method string, args map[string]any) (erp.Outcome, error) {
	f.mu.Lock()
	fn := f.Methods[method]
	f.record("invoke " + method)
	f.mu.Unlock()
	if fn == nil {
		err := &erp.RemoteError{Status: 404, ExcType: "ValidationError", Message: "Method " + method + " not found"}
		return erp.Outcome{OK: false, Message: err.Message}, err
	}
	return fn(args)
}

func (f *Fake) UploadFile(_ context.Context, name string, content []byte, private bool) (erp.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "/files/" + name
	if private {
		url = "/private/files/" + name
	}
	f.files[url] = append([]byte(nil), content...)
	f.record("upload " + name)
	return erp.FileRef{URL: url, Name: name}, nil
}

func (f *Fake) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[url]
	if !ok {
		return nil, notFound("File", url)
	}
	return data, nil
}

func (f *Fake) Ping(context.Context) (string, error) { return "Administrator", nil }
