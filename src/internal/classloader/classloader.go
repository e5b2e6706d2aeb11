/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package classloader maintains
// the name-to-class mapping, synthesises array classes on demand,
// fetches instance-class bytes through a classpath collaborator,
// decodes them, links member references, and runs the
// LOADED -> INITIALISING -> INITIALISED protocol. Grounded in the
// jacobin's classloader.go (Classloader/ParsedClass) and
// artipop-jacobin's richer classloader.go (Klass/ClData/status byte),
// generalised into exported, fully-linked types.
package classloader

import (
	"strings"
	"sync"

	"embervm/internal/classfile"
	"embervm/internal/excnames"
	"embervm/internal/stringpool"
	"embervm/internal/types"
	"embervm/internal/util"
	"embervm/log"
)

// Klass is a loaded, tagged-variant Class. Only the fields
// relevant to the variant in Shape are populated: a tagged sum type
// with exhaustive dispatch on Shape, rather than the original's
// raw-pointer variant shapes.
type Klass struct {
	mutex sync.Mutex

	Shape types.ClassShape
	Name  string

	// ---- Instance shape ----
	CP              *classfile.ConstantPool
	Superclass      string
	Interfaces      []string
	Fields          []*Field
	StaticFields    map[string]*StaticField
	Methods         []*Method
	MethodTable     map[string]*Method // key: name + descriptor
	AccessFlags     int
	SourceFile      string
	Bootstraps      []classfile.BootstrapMethod
	InitState       types.ClassInitState
	initCond        *sync.Cond
	initOwnerThread int // thread ID currently running <clinit>; allows re-entrancy

	// ---- ObjectArray / TypeArray shape ----
	ComponentClass string // for ObjectArray: the component class name; for TypeArray: the primitive type name
	ElementType    types.SlotType

	// ---- Primitive shape ----
	BasicTypeCode byte // 'I','J','F','D','B','C','S','Z' etc.
	BoxingClass   string

	// Mirror is a non-owning handle: the heap allocates the
	// actual mirror object and stores an opaque reference here so the
	// GC can find "every loaded class's mirror" (root (a))
	// by walking the loader's class table, without the class owning
	// (in the Go-GC sense) the mirror object itself.
	Mirror interface{}

	initErr error // sticky error once InitState == Errored
}

// Field is a linked instance or static field descriptor.
type Field struct {
	Owner      *Klass
	Name       string
	Descriptor string
	AccessFlags int
	SlotID     int
	SlotType   types.SlotType
	ConstantValue interface{}
}

func (f *Field) IsStatic() bool { return f.AccessFlags&classfile.AccStatic != 0 }

// StaticField holds the actual storage cell for a static field. Static
// storage lives on the class, separate from per-instance field slots.
type StaticField struct {
	Field *Field
	Value interface{}
}

// Method is a linked method: owner, signature, bytecode,
// exception table, slot counts, and the optional native/compiled
// handlers the interpreter and JIT attach.
type Method struct {
	classfile.Method
	Owner           *Klass
	ParamSlotTypes  []types.SlotType
	ReturnSlotType  types.SlotType
	ParamSlotCount  int // total slot width of the parameters (longs/doubles count twice)
	NativeHandler   NativeHandler
	CompiledHandler CompiledHandler
	InvocationCount uint64

	dynMu    sync.Mutex
	dynamics map[int]*DynamicCallSite // keyed by the invokedynamic instruction's constant-pool index
}

// DynamicCallSite is the cached result of an invokedynamic
// instruction's first-use bootstrap: the resolved method the call
// site is bound to (wherever in its owner's superclass chain
// FindMethod actually found it), and the receiver to bind it to if
// that method isn't static. Bound is interface{} rather than
// *object.Object so this package doesn't need to import
// internal/object, the same convention StaticField.Value already
// uses.
type DynamicCallSite struct {
	Target *Method
	Bound  interface{}
}

// CachedDynamic returns the call site cached for cpIndex, or nil on a
// first-use miss.
func (m *Method) CachedDynamic(cpIndex int) *DynamicCallSite {
	m.dynMu.Lock()
	defer m.dynMu.Unlock()
	return m.dynamics[cpIndex]
}

// CacheDynamic records cpIndex's resolved call site so later
// executions of the same invokedynamic instruction skip its bootstrap
// call.
func (m *Method) CacheDynamic(cpIndex int, cs *DynamicCallSite) {
	m.dynMu.Lock()
	defer m.dynMu.Unlock()
	if m.dynamics == nil {
		m.dynamics = make(map[int]*DynamicCallSite)
	}
	m.dynamics[cpIndex] = cs
}

// NativeHandler is the shape a registered native method implements.
// The frame is passed as interface{} to avoid an import of
// internal/frame here (frame already imports classloader for *Method).
type NativeHandler func(frame interface{}) (interface{}, error)

// CompiledHandler is the JIT's installed native function, following
// signature: "(frame*, locals*, local_types*, thrown_out*) → void".
type CompiledHandler func(frame, locals, localTypes, thrownOut interface{})

func (m *Method) IsStatic() bool { return m.AccessFlags&classfile.AccStatic != 0 }

// Loader is the class-name-to-Klass cache plus its classpath
// collaborator and the interned-string pool it hosts.
type Loader struct {
	mutex     sync.RWMutex
	Name      string
	Parent    string
	classes   map[string]*Klass
	Classpath *Classpath
	Strings   *stringpool.Pool

	linkCacheMu sync.Mutex
	linkCache   map[linkKey]*linkResult
}

type linkKey struct {
	owner    string
	cpIndex  int
	isStatic bool
}

type linkResult struct {
	field  *Field
	method *Method
}

// NewLoader creates a classloader with the given classpath.
func NewLoader(name, parent string, cp *Classpath) *Loader {
	return &Loader{
		Name:      name,
		Parent:    parent,
		classes:   make(map[string]*Klass),
		Classpath: cp,
		Strings:   stringpool.New(),
		linkCache: make(map[linkKey]*linkResult),
	}
}

// ErrClassNotFound is returned (wrapped with the class name) when the
// classpath collaborator has no bytes for a requested class.
type ErrClassNotFound struct{ Name string }

func (e *ErrClassNotFound) Error() string { return "ClassNotFound: " + e.Name }

// ErrNoClassDefFound is returned for a class that previously failed to
// initialise.
type ErrNoClassDefFound struct{ Name string }

func (e *ErrNoClassDefFound) Error() string { return "NoClassDefFound: " + e.Name }

// Lookup returns the already-loaded class by name, or nil.
func (l *Loader) Lookup(name string) *Klass {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.classes[name]
}

// LoadedClasses returns every class currently published in the name
// table, the view the collector's root scan needs for each loaded
// class's mirror and its REF-typed static fields.
func (l *Loader) LoadedClasses() []*Klass {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]*Klass, 0, len(l.classes))
	for _, k := range l.classes {
		out = append(out, k)
	}
	return out
}

// LoadClass implements the lookup/construct/publish protocol: if
// present, return the cached Klass; if absent and the name denotes an
// array, construct an array class recursively from the component; if
// absent and the name denotes an instance class, fetch the bytes through the
// class-path collaborator ... Newly constructed classes are published
// atomically with their name."
func (l *Loader) LoadClass(name string) (*Klass, error) {
	if k := l.Lookup(name); k != nil {
		return k, nil
	}

	if util.IsArrayDescriptor(name) {
		return l.loadArrayClass(name)
	}

	if k, ok := primitiveClasses[name]; ok {
		l.publish(name, k)
		return k, nil
	}

	data, err := l.Classpath.GetStream(util.NameToPath(name))
	if err != nil {
		return nil, &ErrClassNotFound{Name: name}
	}

	cf, err := classfile.Decode(data)
	if err != nil {
		return nil, err
	}
	if cf.ThisClass != name {
		_ = log.Log("class name mismatch: expected "+name+" got "+cf.ThisClass, log.WARNING)
	}

	// Instance slots are numbered above every slot the superclass chain
	// already uses, so the superclass is loaded before this class is linked.
	base := 0
	if cf.SuperClass != "" {
		if super, err := l.LoadClass(cf.SuperClass); err == nil {
			for cur := super; cur != nil; cur = l.Lookup(cur.Superclass) {
				for _, f := range cur.Fields {
					if end := f.SlotID + types.SlotWidth(f.SlotType); !f.IsStatic() && end > base {
						base = end
					}
				}
			}
		}
	}
	k := l.linkClassFile(cf, base)
	l.publish(cf.ThisClass, k)
	return k, nil
}

// Register publishes a synthetic class not derived from a parsed class
// file, the path bootstrap code uses to install built-in classes (and
// tests use to install fixtures) directly into the name table.
func (l *Loader) Register(name string, k *Klass) {
	l.publish(name, k)
}

func (l *Loader) publish(name string, k *Klass) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	// Another goroutine may have raced us to load the same class; the
	// first publisher wins, matching "published atomically with their
	// name" without requiring a second compare-and-swap primitive.
	if existing, ok := l.classes[name]; ok {
		_ = existing
		return
	}
	l.classes[name] = k
}

// loadArrayClass recursively builds an ObjectArray or TypeArray class
// for a descriptor like "[I" or "[Ljava/lang/String;" or "[[I",
// constructing the component class recursively first when needed.
func (l *Loader) loadArrayClass(name string) (*Klass, error) {
	component := name[1:]
	k := &Klass{
		Name:      name,
		InitState: types.Initialised, // arrays need no <clinit>
	}
	switch component[0] {
	case 'L':
		className := strings.TrimSuffix(component[1:], ";")
		if _, err := l.LoadClass(className); err != nil {
			return nil, err
		}
		k.Shape = types.ShapeObjectArray
		k.ComponentClass = className
		k.ElementType = types.REF
	case '[':
		if _, err := l.LoadClass(component); err != nil {
			return nil, err
		}
		k.Shape = types.ShapeObjectArray
		k.ComponentClass = component
		k.ElementType = types.REF
	default:
		k.Shape = types.ShapeTypeArray
		k.ComponentClass = string(component[0])
		k.ElementType = types.SlotTypeFromDescriptor(component)
	}
	l.publish(name, k)
	return k, nil
}

// linkClassFile converts a decoded classfile.ClassFile into a linked
// Klass: builds the field/method tables and computes static/instance
// field layout. Instance slots are numbered from base, the first slot
// above every instance slot of the superclass chain; LoadClass loads the
// superclass and computes base before calling this.
func (l *Loader) linkClassFile(cf *classfile.ClassFile, base int) *Klass {
	k := &Klass{
		Shape:        types.ShapeInstance,
		Name:         cf.ThisClass,
		CP:           cf.CP,
		Superclass:   cf.SuperClass,
		Interfaces:   cf.Interfaces,
		AccessFlags:  cf.AccessFlags,
		SourceFile:   cf.SourceFile,
		Bootstraps:   cf.Bootstraps,
		InitState:    types.Loaded,
		StaticFields: make(map[string]*StaticField),
		MethodTable:  make(map[string]*Method),
	}
	k.initCond = sync.NewCond(&k.mutex)

	instanceSlot := base
	for i := range cf.Fields {
		cfField := &cf.Fields[i]
		f := &Field{
			Owner:         k,
			Name:          cfField.Name,
			Descriptor:    cfField.Descriptor,
			AccessFlags:   cfField.AccessFlags,
			SlotType:      types.SlotTypeFromDescriptor(cfField.Descriptor),
			ConstantValue: cfField.ConstantValue,
		}
		if f.IsStatic() {
			k.StaticFields[f.Name] = &StaticField{Field: f, Value: zeroValue(f.SlotType)}
			if f.ConstantValue != nil {
				k.StaticFields[f.Name].Value = f.ConstantValue
			}
		} else {
			f.SlotID = instanceSlot
			instanceSlot += types.SlotWidth(f.SlotType)
		}
		k.Fields = append(k.Fields, f)
	}

	for i := range cf.Methods {
		cfMethod := cf.Methods[i]
		params, ret := util.ParseMethodDescriptor(cfMethod.Descriptor)
		m := &Method{Method: cfMethod, Owner: k, ReturnSlotType: types.SlotTypeFromDescriptor(ret)}
		slotCount := 0
		for _, p := range params {
			st := types.SlotTypeFromDescriptor(p)
			m.ParamSlotTypes = append(m.ParamSlotTypes, st)
			slotCount += types.SlotWidth(st)
		}
		m.ParamSlotCount = slotCount
		k.Methods = append(k.Methods, m)
		k.MethodTable[cfMethod.Name+cfMethod.Descriptor] = m
	}

	return k
}

func zeroValue(t types.SlotType) interface{} {
	switch t {
	case types.INT:
		return int32(0)
	case types.LONG:
		return int64(0)
	case types.FLOAT:
		return float32(0)
	case types.DOUBLE:
		return float64(0)
	default:
		return nil
	}
}

// primitiveClasses holds the eight primitive Klasses, keyed by their descriptor letter as a name so
// LoadClass("I") resolves the way array-component resolution expects.
var primitiveClasses = map[string]*Klass{
	"I": {Shape: types.ShapePrimitive, Name: "I", BasicTypeCode: 'I', BoxingClass: "java/lang/Integer", InitState: types.Initialised},
	"J": {Shape: types.ShapePrimitive, Name: "J", BasicTypeCode: 'J', BoxingClass: "java/lang/Long", InitState: types.Initialised},
	"F": {Shape: types.ShapePrimitive, Name: "F", BasicTypeCode: 'F', BoxingClass: "java/lang/Float", InitState: types.Initialised},
	"D": {Shape: types.ShapePrimitive, Name: "D", BasicTypeCode: 'D', BoxingClass: "java/lang/Double", InitState: types.Initialised},
	"B": {Shape: types.ShapePrimitive, Name: "B", BasicTypeCode: 'B', BoxingClass: "java/lang/Byte", InitState: types.Initialised},
	"C": {Shape: types.ShapePrimitive, Name: "C", BasicTypeCode: 'C', BoxingClass: "java/lang/Character", InitState: types.Initialised},
	"S": {Shape: types.ShapePrimitive, Name: "S", BasicTypeCode: 'S', BoxingClass: "java/lang/Short", InitState: types.Initialised},
	"Z": {Shape: types.ShapePrimitive, Name: "Z", BasicTypeCode: 'Z', BoxingClass: "java/lang/Boolean", InitState: types.Initialised},
}

// FindMethod searches the owner and its superclass chain for an
// instance method, and the owner and its interfaces for an interface
// method. It lazily loads superclasses as
// it walks, matching the "resolve the owner class, then search" order.
func (l *Loader) FindMethod(k *Klass, name, desc string) (*Method, error) {
	cur := k
	for cur != nil {
		if m, ok := cur.MethodTable[name+desc]; ok {
			return m, nil
		}
		if cur.Superclass == "" {
			break
		}
		super, err := l.LoadClass(cur.Superclass)
		if err != nil {
			return nil, err
		}
		cur = super
	}
	// interface search
	for _, ifaceName := range k.Interfaces {
		iface, err := l.LoadClass(ifaceName)
		if err != nil {
			continue
		}
		if m, ok := iface.MethodTable[name+desc]; ok {
			return m, nil
		}
	}
	return nil, excError(excnames.NoClassDefFoundError, "method not found: "+k.Name+"."+name+desc)
}

// FindField searches the owner and its superclass chain for an
// instance or static field definition.
func (l *Loader) FindField(k *Klass, name string) (*Field, error) {
	cur := k
	for cur != nil {
		for _, f := range cur.Fields {
			if f.Name == name {
				return f, nil
			}
		}
		if cur.Superclass == "" {
			break
		}
		super, err := l.LoadClass(cur.Superclass)
		if err != nil {
			return nil, err
		}
		cur = super
	}
	return nil, excError(excnames.NoClassDefFoundError, "field not found: "+k.Name+"."+name)
}

// LinkRef resolves a field or method reference from a class's constant
// pool, caching by (constant-pool index, is-static) as // requires ("Results are cached keyed by (constant-pool index,
// is-static)").
func (l *Loader) LinkRef(owner *Klass, cpIndex int, isStatic bool) (*Field, *Method, error) {
	key := linkKey{owner: owner.Name, cpIndex: cpIndex, isStatic: isStatic}
	l.linkCacheMu.Lock()
	if cached, ok := l.linkCache[key]; ok {
		l.linkCacheMu.Unlock()
		return cached.field, cached.method, nil
	}
	l.linkCacheMu.Unlock()

	className, name, desc, err := owner.CP.RefAt(cpIndex)
	if err != nil {
		return nil, nil, err
	}
	refClass, err := l.LoadClass(className)
	if err != nil {
		return nil, nil, err
	}

	var field *Field
	var method *Method
	if isStatic || strings.HasPrefix(desc, "(") {
		// descriptor starting with '(' is unambiguous for a method ref;
		// the isStatic flag otherwise disambiguates invokestatic
		// resolution from getstatic/putstatic field resolution when
		// both are theoretically possible at the call site.
	}
	if strings.HasPrefix(desc, "(") {
		method, err = l.FindMethod(refClass, name, desc)
	} else {
		field, err = l.FindField(refClass, name)
	}
	if err != nil {
		return nil, nil, err
	}

	l.linkCacheMu.Lock()
	l.linkCache[key] = &linkResult{field: field, method: method}
	l.linkCacheMu.Unlock()
	return field, method, nil
}

type vmError struct {
	ClassName string
	Message   string
}

func (e *vmError) Error() string { return e.ClassName + ": " + e.Message }

func excError(className, msg string) error {
	return &vmError{ClassName: className, Message: msg}
}
