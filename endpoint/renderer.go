package endpoint

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"net/http"
)

// setContentType sets Content-Type unless an outer renderer already set one.
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentType)
	}
}

// RedirectRenderer redirects the client to a new URL.
//
// If Status is 0, it defaults to http.StatusFound.
type RedirectRenderer struct {
	URL    string
	Status int
}

// Render implements Renderer for RedirectRenderer.
func (rr *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	status := rr.Status
	if status == 0 {
		status = http.StatusFound
	}
	http.Redirect(w, r, rr.URL, status)
	return nil
}

// HTMLTemplateRenderer renders an html/template into the response.
// Execution is buffered so a template error can still become a 500.
//
// Name is optional; when set, ExecuteTemplate is used.
type HTMLTemplateRenderer struct {
	Status   int
	Template *template.Template
	Name     string
	Values   any
}

func (hr *HTMLTemplateRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if hr.Template == nil {
		return errors.New("endpoint: nil html/template")
	}

	var buf bytes.Buffer
	var err error
	if hr.Name != "" {
		err = hr.Template.ExecuteTemplate(&buf, hr.Name, hr.Values)
	} else {
		err = hr.Template.Execute(&buf, hr.Values)
	}
	if err != nil {
		return err
	}

	setContentType(w, "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	status := hr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	_, err = io.Copy(w, &buf)
	return err
}
