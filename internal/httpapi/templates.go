package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFiles embed.FS

type templates struct {
	form    *template.Template
	success *template.Template
}

var templateFuncs = template.FuncMap{
	"pad2": func(n int) string {
		if n < 10 {
			return "0" + itoa(n)
		}
		return itoa(n)
	},
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func loadTemplates() *templates {
	return &templates{
		form:    template.Must(template.New("form.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/form.html")),
		success: template.Must(template.New("success.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/success.html")),
	}
}

func (t *templates) renderForm(w http.ResponseWriter, data formView) error {
	var buf bytes.Buffer
	if err := t.form.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set(echoHeaderContentType, "text/html; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}

func (t *templates) renderSuccess(w http.ResponseWriter, status int, data successView) error {
	var buf bytes.Buffer
	if err := t.success.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set(echoHeaderContentType, "text/html; charset=UTF-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

const echoHeaderContentType = "Content-Type"
