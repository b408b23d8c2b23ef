package duetwebui

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the duet page. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded stylesheet and script that drive the page's live transcript.
//
//go:embed static/*
var StaticFS embed.FS
