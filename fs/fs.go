// Package appfs embeds the application's static files.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
