// Package content 负责 ws 消息负载与结构化值之间的转换
package content

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrCodecNotFound 编解码器不存在
	ErrCodecNotFound = errors.New("content: codec not found")
	// ErrUnsupportedType 类型无法从字节转换
	ErrUnsupportedType = errors.New("content: unsupported type")
	// ErrNilTarget 解码目标为空
	ErrNilTarget = errors.New("content: decode target must be a non-nil pointer")
)

// nullLiteral 空值的文本表示
const nullLiteral = "null"

// Codec 编解码器
type Codec interface {
	// Name 编解码器名称（如 json、yaml）
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Converter 负载转换接口
type Converter interface {
	// Decode 将原始字节转换为目标值，v 必须为非空指针
	Decode(data []byte, v any) error
	// Encode 将结构化值转换为文本负载，nil 编码为 "null"
	Encode(v any) ([]byte, error)
	// Supports 判断类型能否由原始字节转换得到
	Supports(t reflect.Type) bool
}

// Engine 默认转换引擎
type Engine struct {
	mu     sync.RWMutex
	codecs map[string]Codec
	def    string
}

// Option 引擎选项
type Option func(*Engine)

// WithCodec 注册编解码器
func WithCodec(c Codec) Option {
	return func(e *Engine) {
		e.codecs[c.Name()] = c
	}
}

// WithDefault 设置默认编解码器名称
func WithDefault(name string) Option {
	return func(e *Engine) {
		e.def = name
	}
}

// New 创建转换引擎，默认注册 json 与 yaml，默认使用 json
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		codecs: map[string]Codec{
			JSONCodec{}.Name(): JSONCodec{},
			YAMLCodec{}.Name(): YAMLCodec{},
		},
		def: JSONCodec{}.Name(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, ok := e.codecs[e.def]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotFound, e.def)
	}
	return e, nil
}

// Default 返回默认配置的引擎
func Default() *Engine {
	e, _ := New()
	return e
}

// Codec 按名称获取编解码器
func (e *Engine) Codec(name string) (Codec, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.codecs[name]
	return c, ok
}

// Register 运行期注册编解码器
func (e *Engine) Register(c Codec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codecs[c.Name()] = c
}

func (e *Engine) defaultCodec() Codec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.codecs[e.def]
}

// Decode 将原始字节转换为目标值
// *string 与 *[]byte 直接接收原始内容，其余类型交由默认编解码器
func (e *Engine) Decode(data []byte, v any) error {
	switch target := v.(type) {
	case nil:
		return ErrNilTarget
	case *string:
		if target == nil {
			return ErrNilTarget
		}
		*target = string(data)
		return nil
	case *[]byte:
		if target == nil {
			return ErrNilTarget
		}
		*target = append((*target)[:0:0], data...)
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrNilTarget
	}
	if !e.Supports(rv.Type().Elem()) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type().Elem())
	}
	return e.defaultCodec().Unmarshal(data, v)
}

// Encode 将结构化值转换为文本负载
func (e *Engine) Encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte(nullLiteral), nil
	case string:
		return []byte(val), nil
	case []byte:
		if val == nil {
			return []byte(nullLiteral), nil
		}
		return val, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return []byte(nullLiteral), nil
	}
	return e.defaultCodec().Marshal(v)
}

// Supports 判断类型能否由原始字节转换得到
func (e *Engine) Supports(t reflect.Type) bool {
	return supports(t, make(map[reflect.Type]bool))
}

// supports 递归检查类型，seen 用于处理自引用结构体
func supports(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == nil {
		return false
	}
	if seen[t] {
		return true
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Invalid:
		return false
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return supports(t.Elem(), seen)
	case reflect.Map:
		switch t.Key().Kind() {
		case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return false
		}
		return supports(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if !supports(f.Type, seen) {
				return false
			}
		}
	}
	return true
}
