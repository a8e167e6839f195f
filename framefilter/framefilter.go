// Package framefilter defines the per-frame processors a frame host can chain together, and the
// registry that builds them from {type, attributes} configurations.
package framefilter

import (
	"image"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/camcal/logging"
)

// FrameProcessor turns one frame into another. Implementations other than the calibration processor
// keep no state between frames.
type FrameProcessor interface {
	Process(frame image.Image) Result
}

// Result is the outcome of processing one frame. Frame is always set to something displayable; Err
// reports a failure for this frame only.
type Result struct {
	Frame image.Image
	Err   error
}

// AttributeMap holds the free-form attributes of a transformation.
type AttributeMap map[string]interface{}

// Has returns whether the attribute was set.
func (am AttributeMap) Has(name string) bool {
	_, ok := am[name]
	return ok
}

// Transformation names a processor type and its attributes.
type Transformation struct {
	Type       string       `json:"type"`
	Attributes AttributeMap `json:"attributes"`
}

// Constructor builds a processor from its attributes.
type Constructor func(am AttributeMap, logger logging.Logger) (FrameProcessor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// RegisterProcessor registers a processor type. It panics if the type is already registered.
func RegisterProcessor(typ string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[typ]; ok {
		panic(errors.Errorf("trying to register two frame processors with the same type %q", typ))
	}
	if constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for frame processor %q", typ))
	}
	registry[typ] = constructor
}

// RegisteredTypes returns the registered processor types, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for typ := range registry {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// New builds the processor described by tr.
func New(tr Transformation, logger logging.Logger) (FrameProcessor, error) {
	registryMu.RLock()
	constructor, ok := registry[tr.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown frame processor type %q, expected one of %v", tr.Type, RegisteredTypes())
	}
	if logger == nil {
		logger = logging.NewBlankLogger("framefilter")
	}
	am := tr.Attributes
	if am == nil {
		am = AttributeMap{}
	}
	p, err := constructor(am, logger.Sublogger(tr.Type))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot build %q frame processor", tr.Type)
	}
	return p, nil
}

// TransformAttributeMap decodes attributes into a new T using the json tags of T. Attributes that
// match no field are an error.
func TransformAttributeMap[T any](am AttributeMap) (T, error) {
	var out T
	var forResult interface{}
	toT := reflect.TypeOf(out)
	if toT == nil {
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate attribute type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   forResult,
		Metadata: &md,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]interface{}(am)); err != nil {
		return out, err
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return out, errors.Errorf("unknown attributes: %s", strings.Join(md.Unused, ", "))
	}
	return out, nil
}
