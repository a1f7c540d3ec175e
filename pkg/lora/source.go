package lora

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source - место, откуда достаются LoRA-файлы по имени.
// Используется для мокания в тестах и внедрения зависимостей.
type Source interface {
	// List возвращает имена доступных LoRA без расширения.
	List(ctx context.Context) ([]string, error)
	// Fetch скачивает и разбирает LoRA по имени из тега <lora:name:...>.
	Fetch(ctx context.Context, name string) (*Weights, error)
}

const safetensorsExt = ".safetensors"

// DirSource читает LoRA из локальной директории.
type DirSource struct {
	dir string
}

var _ Source = (*DirSource)(nil)

// NewDirSource создает источник поверх директории с *.safetensors файлами.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list lora dir %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), safetensorsExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), safetensorsExt))
	}
	return names, nil
}

func (s *DirSource) Fetch(_ context.Context, name string) (*Weights, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, name+safetensorsExt)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lora %s: %w", name, err)
	}
	return ParseSafetensors(name, raw)
}

// validateName отклоняет имена, выходящие за пределы директории источника.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty lora name")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid lora name %q: path separators are not allowed", name)
	}
	return nil
}
