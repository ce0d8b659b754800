package link

import (
	"html/template"
	"net/http"

	"github.com/nsconnect/rolebridge/endpoint"
)

const pagesHTML = `
{{define "head"}}<!doctype html>
<html lang="en">
<head>
<meta charset="UTF-8" />
<meta name="viewport" content="width=device-width, initial-scale=1.0" />
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/water.css@2/out/water.min.css" />
<title>{{.}}</title>
</head>
<body>
{{end}}

{{define "foot"}}</body>
</html>
{{end}}

{{define "home"}}{{template "head" ""}}
<h1>Discord NationStates Role Connections</h1>
<p>
To get started linking your NationStates nation to your Discord account,
head <a href="./verify">here</a>.
</p>
{{template "foot"}}{{end}}

{{define "nation"}}{{template "head" "Link Your NationStates Nation"}}
<h1>Link Your NationStates Nation</h1>
<form method="GET">
<label for="nation">Nation</label>
<input type="text" name="nation" id="nation" placeholder="Testlandia" required />
<p><button type="submit">Submit</button></p>
</form>
{{template "foot"}}{{end}}

{{define "checksum"}}{{template "head" "Link Your NationStates Nation"}}
<h1>Link Your NationStates Nation</h1>
<form method="POST">
<label for="nation">Nation</label>
<input type="text" id="nation" name="nation" required value="{{.Nation}}" />

<label for="checksum">Checksum</label>
<input type="text" id="checksum" name="checksum" required />

<p>
To find your checksum, open
<a target="_blank" rel="noopener noreferrer" href="{{.VerificationURL}}">this page</a>
and copy-paste the verification code. This is a one-time use link.
</p>

<button type="submit">Submit</button>
</form>
{{template "foot"}}{{end}}

{{define "linked"}}{{template "head" "Role Linked Successfully"}}
<h1>Role Linked Successfully</h1>
<p>
Your NationStates nation has been linked to your Discord account, and the
information associated with your Discord account has been updated. You can
now return to Discord. You may still need to link any roles requiring a
NationStates connection.
</p>
{{template "foot"}}{{end}}

{{define "error"}}{{template "head" .Message}}
<h1>An Error Occurred</h1>
<p>{{.Message}}</p>
{{template "foot"}}{{end}}
`

var pages = template.Must(template.New("pages").Parse(pagesHTML))

type checksumPage struct {
	Nation          string
	VerificationURL string
}

type errorPage struct {
	Status  int
	Message string
}

func page(name string, values any) endpoint.Renderer {
	return &endpoint.HTMLTemplateRenderer{Template: pages, Name: name, Values: values}
}

// renderError is the handler's endpoint.ErrorRenderer.
func renderError(status int, message string) endpoint.Renderer {
	if message == "" {
		message = http.StatusText(status)
	}
	return &endpoint.HTMLTemplateRenderer{
		Status:   status,
		Template: pages,
		Name:     "error",
		Values:   errorPage{Status: status, Message: message},
	}
}
