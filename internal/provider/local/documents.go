package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document 描述一段可被 search_documents 工具检索的文档。
type Document struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords,omitempty"`
}

// matches 判断文档是否命中已转小写的查询串。
func (d Document) matches(loweredQuery string) bool {
	if strings.Contains(strings.ToLower(d.Title), loweredQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(d.Content), loweredQuery) {
		return true
	}
	for _, keyword := range d.Keywords {
		if strings.Contains(strings.ToLower(keyword), loweredQuery) {
			return true
		}
	}
	return false
}

// LoadDocuments 从 JSON 文件加载文档条目。
func LoadDocuments(path string) ([]Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("文档文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析文档路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取文档文件失败: %w", err)
	}

	var docs []Document
	if err := json.Unmarshal(content, &docs); err != nil {
		return nil, fmt.Errorf("解析文档文件失败: %w", err)
	}
	return docs, nil
}
