// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package notify

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

type accessRequestData struct {
	RequesterName string
	DocumentTitle string
	RequestedRole string
}

type renderedBody struct {
	text string
	html string
}

var accessRequestText = texttemplate.Must(texttemplate.New("access_request_text").Parse(
	`{{.RequesterName}} has requested {{.RequestedRole}} access to {{.DocumentTitle}}.

Open the document's sharing settings to approve or decline this request.
`))

var accessRequestHTML = htmltemplate.Must(htmltemplate.New("access_request_html").Parse(
	`<p><strong>{{.RequesterName}}</strong> has requested <strong>{{.RequestedRole}}</strong> access to <strong>{{.DocumentTitle}}</strong>.</p>
<p>Open the document's sharing settings to approve or decline this request.</p>
`))

// renderAccessRequest produces both bodies for one notification. The HTML
// template escapes requester-controlled values.
func renderAccessRequest(data accessRequestData) (renderedBody, error) {
	var text, html strings.Builder

	if err := accessRequestText.Execute(&text, data); err != nil {
		return renderedBody{}, fmt.Errorf("text template: %w", err)
	}
	if err := accessRequestHTML.Execute(&html, data); err != nil {
		return renderedBody{}, fmt.Errorf("html template: %w", err)
	}

	return renderedBody{text: text.String(), html: html.String()}, nil
}
