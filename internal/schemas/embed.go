package schemas

import (
	"embed"
)

//go:embed *.json
var fs embed.FS

// Schema file names
const (
	Description  = "description.json"
	Introduction = "introduction.json"
	Chapter      = "chapter.json"
	Conclusion   = "conclusion.json"
)

// GetSchema returns the content of a schema file by name
func GetSchema(name string) ([]byte, error) {
	return fs.ReadFile(name)
}
