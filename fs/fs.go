// Package appfs embeds the files the app needs at runtime.
package appfs

import "embed"

//go:embed migrations all:templates
var FS embed.FS
