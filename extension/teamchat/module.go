// Package teamchat is the Team Chat module: a single surface showing the
// message timeline of the messages collection with live updates.
package teamchat

import "github.com/example/team-chat/extension"

// Module declares the Team Chat module.
var Module = extension.Definition{
	ID:   "team-chat",
	Name: "Team Chat",
	Icon: "chat",
	Routes: []extension.Route{
		{Path: "", Component: NewSurface},
	},
}
