package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "secure-messaging",
	Level: hclog.LevelFromString("INFO"),
})
