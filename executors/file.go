package executors

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileInput defines the input parameters for the file executor
type FileInput struct {
	Operation   string `json:"operation"`   // read, write, append, delete, exists, mkdir, list
	Path        string `json:"path"`        // file or directory path
	Content     string `json:"content"`     // content to write (for write/append operations)
	Permissions string `json:"permissions"` // file permissions (e.g., "0644", "0755")
	CreateDirs  bool   `json:"create_dirs"` // create parent directories if they don't exist
}

// FileExecutor performs file operations
type FileExecutor struct{}

func NewFileExecutor() *FileExecutor {
	return &FileExecutor{}
}

func (e *FileExecutor) Name() string {
	return "file"
}

func (e *FileExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	var input FileInput
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.Path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if input.Operation == "" {
		input.Operation = "read"
	}

	switch strings.ToLower(input.Operation) {
	case "read":
		content, err := os.ReadFile(input.Path)
		if err != nil {
			return nil, err
		}
		return string(content), nil

	case "write":
		if input.CreateDirs {
			if err := os.MkdirAll(filepath.Dir(input.Path), 0755); err != nil {
				return nil, err
			}
		}
		perm := fs.FileMode(0644)
		if input.Permissions != "" {
			if parsed, err := parsePermissions(input.Permissions); err == nil {
				perm = parsed
			}
		}
		if err := os.WriteFile(input.Path, []byte(input.Content), perm); err != nil {
			return nil, err
		}
		return true, nil

	case "append":
		file, err := os.OpenFile(input.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if _, err := file.WriteString(input.Content); err != nil {
			return nil, err
		}
		return true, nil

	case "delete":
		if err := os.Remove(input.Path); err != nil {
			return nil, err
		}
		return true, nil

	case "exists":
		if _, err := os.Stat(input.Path); err == nil {
			return true, nil
		}
		return false, nil

	case "mkdir":
		perm := fs.FileMode(0755)
		if input.Permissions != "" {
			if parsed, err := parsePermissions(input.Permissions); err == nil {
				perm = parsed
			}
		}
		var err error
		if input.CreateDirs {
			err = os.MkdirAll(input.Path, perm)
		} else {
			err = os.Mkdir(input.Path, perm)
		}
		if err != nil {
			return nil, err
		}
		return true, nil

	case "list":
		entries, err := os.ReadDir(input.Path)
		if err != nil {
			return nil, err
		}
		files := make([]any, len(entries))
		for i, entry := range entries {
			if entry.IsDir() {
				files[i] = entry.Name() + "/"
			} else {
				files[i] = entry.Name()
			}
		}
		return files, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", input.Operation)
	}
}

// parsePermissions converts a string permission to fs.FileMode
func parsePermissions(perm string) (fs.FileMode, error) {
	if strings.HasPrefix(perm, "0") {
		var mode uint32
		if _, err := fmt.Sscanf(perm, "%o", &mode); err != nil {
			return 0, err
		}
		return fs.FileMode(mode), nil
	}
	var mode uint32
	if _, err := fmt.Sscanf(perm, "%d", &mode); err != nil {
		return 0, err
	}
	return fs.FileMode(mode), nil
}
