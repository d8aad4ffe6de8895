package content

import (
	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// JSONCodec JSON 编解码器
type JSONCodec struct{}

// Name 返回名称
func (JSONCodec) Name() string { return "json" }

// Marshal 序列化
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal 反序列化
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAMLCodec YAML 编解码器
type YAMLCodec struct{}

// Name 返回名称
func (YAMLCodec) Name() string { return "yaml" }

// Marshal 序列化
func (YAMLCodec) Marshal(v any) ([]byte, error) { return yaml.Marshal(v) }

// Unmarshal 反序列化
func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
