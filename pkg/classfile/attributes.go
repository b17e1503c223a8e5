package classfile

import "fmt"

// Attribute is implemented by all decoded attribute variants.
type Attribute interface {
	AttrName() string
}

// ExceptionHandler is one entry of a Code attribute's exception table.
// CatchType 0 means the handler catches everything (finally).
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttribute holds a method body.
type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
	Attributes        []Attribute
}

func (a *CodeAttribute) AttrName() string { return "Code" }

// LineNumbers returns the code's LineNumberTable entries, or nil.
func (a *CodeAttribute) LineNumbers() []LineNumberEntry {
	for _, attr := range a.Attributes {
		if lnt, ok := attr.(*LineNumberTableAttribute); ok {
			return lnt.Entries
		}
	}
	return nil
}

type ConstantValueAttribute struct {
	Index uint16
}

func (a *ConstantValueAttribute) AttrName() string { return "ConstantValue" }

type ExceptionsAttribute struct {
	// Constant pool indices of CONSTANT_Class entries.
	Indices []uint16
}

func (a *ExceptionsAttribute) AttrName() string { return "Exceptions" }

type InnerClass struct {
	InnerClassIndex uint16
	OuterClassIndex uint16
	InnerNameIndex  uint16
	AccessFlags     uint16
}

type InnerClassesAttribute struct {
	Classes []InnerClass
}

func (a *InnerClassesAttribute) AttrName() string { return "InnerClasses" }

type EnclosingMethodAttribute struct {
	ClassIndex  uint16
	MethodIndex uint16
}

func (a *EnclosingMethodAttribute) AttrName() string { return "EnclosingMethod" }

type SyntheticAttribute struct{}

func (a *SyntheticAttribute) AttrName() string { return "Synthetic" }

type DeprecatedAttribute struct{}

func (a *DeprecatedAttribute) AttrName() string { return "Deprecated" }

type SignatureAttribute struct {
	Signature string
}

func (a *SignatureAttribute) AttrName() string { return "Signature" }

type SourceFileAttribute struct {
	Name string
}

func (a *SourceFileAttribute) AttrName() string { return "SourceFile" }

type SourceDebugExtensionAttribute struct {
	Debug []byte
}

func (a *SourceDebugExtensionAttribute) AttrName() string { return "SourceDebugExtension" }

type LineNumberEntry struct {
	StartPC uint16
	Line    uint16
}

type LineNumberTableAttribute struct {
	Entries []LineNumberEntry
}

func (a *LineNumberTableAttribute) AttrName() string { return "LineNumberTable" }

type LocalVariable struct {
	StartPC         uint16
	Length          uint16
	NameIndex       uint16
	DescriptorIndex uint16 // signature index for the Type variant
	Slot            uint16
}

type LocalVariableTableAttribute struct {
	Variables []LocalVariable
}

func (a *LocalVariableTableAttribute) AttrName() string { return "LocalVariableTable" }

type LocalVariableTypeTableAttribute struct {
	Variables []LocalVariable
}

func (a *LocalVariableTypeTableAttribute) AttrName() string { return "LocalVariableTypeTable" }

type BootstrapMethod struct {
	MethodRef uint16
	Arguments []uint16
}

type BootstrapMethodsAttribute struct {
	Methods []BootstrapMethod
}

func (a *BootstrapMethodsAttribute) AttrName() string { return "BootstrapMethods" }

// Verification type tags used by StackMapTable.
const (
	ItemTop               = 0
	ItemInteger           = 1
	ItemFloat             = 2
	ItemDouble            = 3
	ItemLong              = 4
	ItemNull              = 5
	ItemUninitializedThis = 6
	ItemObject            = 7
	ItemUninitialized     = 8
)

// VerificationType is one verification_type_info entry. Index is the
// constant pool index for Object items and the offset for Uninitialized
// items; 0 otherwise.
type VerificationType struct {
	Tag   uint8
	Index uint16
}

// StackMapFrame is one decoded stack_map_frame. The interpreter does not
// consume these; they are decoded to validate the attribute's structure.
type StackMapFrame struct {
	FrameType   uint8
	OffsetDelta uint16
	Locals      []VerificationType
	Stack       []VerificationType
}

type StackMapTableAttribute struct {
	Frames []StackMapFrame
}

func (a *StackMapTableAttribute) AttrName() string { return "StackMapTable" }

// AnnotationElement is one element-value pair of an annotation.
type AnnotationElement struct {
	NameIndex uint16
	Value     ElementValue
}

// ElementValue is a decoded element_value. Exactly one of the payload
// fields is meaningful, selected by Tag.
type ElementValue struct {
	Tag uint8 // 'B','C','D','F','I','J','S','Z','s','e','c','@','['

	ConstIndex     uint16
	EnumTypeIndex  uint16
	EnumConstIndex uint16
	ClassIndex     uint16
	Annotation     *Annotation
	Values         []ElementValue
}

// Annotation is one decoded annotation structure.
type Annotation struct {
	TypeIndex uint16
	Elements  []AnnotationElement
}

type RuntimeAnnotationsAttribute struct {
	Visible     bool
	Annotations []Annotation
}

func (a *RuntimeAnnotationsAttribute) AttrName() string {
	if a.Visible {
		return "RuntimeVisibleAnnotations"
	}
	return "RuntimeInvisibleAnnotations"
}

type RuntimeParameterAnnotationsAttribute struct {
	Visible    bool
	Parameters [][]Annotation
}

func (a *RuntimeParameterAnnotationsAttribute) AttrName() string {
	if a.Visible {
		return "RuntimeVisibleParameterAnnotations"
	}
	return "RuntimeInvisibleParameterAnnotations"
}

type AnnotationDefaultAttribute struct {
	Value ElementValue
}

func (a *AnnotationDefaultAttribute) AttrName() string { return "AnnotationDefault" }

// parseAttributes reads a counted attribute table. Every attribute name
// must be recognized: decoding an unknown attribute fails so malformed
// input surfaces at load time instead of at execution time.
func parseAttributes(r *reader, pool []ConstantPoolEntry, count uint16) ([]Attribute, error) {
	attrs := make([]Attribute, 0, count)
	for i := uint16(0); i < count; i++ {
		nameIndex := r.u2()
		length := r.u4()
		data := r.bytes(int(length))
		if r.err != nil {
			return nil, fmt.Errorf("reading attribute %d: %w", i, r.err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}

		attr, err := decodeAttribute(name, data, pool)
		if err != nil {
			return nil, fmt.Errorf("decoding attribute %q: %w", name, err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func decodeAttribute(name string, data []byte, pool []ConstantPoolEntry) (Attribute, error) {
	r := &reader{data: data}

	var attr Attribute
	switch name {
	case "ConstantValue":
		attr = &ConstantValueAttribute{Index: r.u2()}

	case "Code":
		code, err := decodeCodeAttribute(r, pool)
		if err != nil {
			return nil, err
		}
		attr = code

	case "StackMapTable":
		table, err := decodeStackMapTable(r)
		if err != nil {
			return nil, err
		}
		attr = table

	case "Exceptions":
		count := r.u2()
		indices := make([]uint16, count)
		for i := range indices {
			indices[i] = r.u2()
		}
		attr = &ExceptionsAttribute{Indices: indices}

	case "InnerClasses":
		count := r.u2()
		classes := make([]InnerClass, count)
		for i := range classes {
			classes[i] = InnerClass{
				InnerClassIndex: r.u2(),
				OuterClassIndex: r.u2(),
				InnerNameIndex:  r.u2(),
				AccessFlags:     r.u2(),
			}
		}
		attr = &InnerClassesAttribute{Classes: classes}

	case "EnclosingMethod":
		attr = &EnclosingMethodAttribute{ClassIndex: r.u2(), MethodIndex: r.u2()}

	case "Synthetic":
		attr = &SyntheticAttribute{}

	case "Deprecated":
		attr = &DeprecatedAttribute{}

	case "Signature":
		sig, err := GetUtf8(pool, r.u2())
		if err != nil {
			return nil, err
		}
		attr = &SignatureAttribute{Signature: sig}

	case "SourceFile":
		src, err := GetUtf8(pool, r.u2())
		if err != nil {
			return nil, err
		}
		attr = &SourceFileAttribute{Name: src}

	case "SourceDebugExtension":
		attr = &SourceDebugExtensionAttribute{Debug: data}
		r.off = len(data)

	case "LineNumberTable":
		count := r.u2()
		entries := make([]LineNumberEntry, count)
		for i := range entries {
			entries[i] = LineNumberEntry{StartPC: r.u2(), Line: r.u2()}
		}
		attr = &LineNumberTableAttribute{Entries: entries}

	case "LocalVariableTable":
		attr = &LocalVariableTableAttribute{Variables: decodeLocalVariables(r)}

	case "LocalVariableTypeTable":
		attr = &LocalVariableTypeTableAttribute{Variables: decodeLocalVariables(r)}

	case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
		count := r.u2()
		annotations := make([]Annotation, 0, count)
		for i := uint16(0); i < count; i++ {
			ann, err := decodeAnnotation(r)
			if err != nil {
				return nil, err
			}
			annotations = append(annotations, ann)
		}
		attr = &RuntimeAnnotationsAttribute{
			Visible:     name == "RuntimeVisibleAnnotations",
			Annotations: annotations,
		}

	case "RuntimeVisibleParameterAnnotations", "RuntimeInvisibleParameterAnnotations":
		paramCount := r.u1()
		params := make([][]Annotation, 0, paramCount)
		for i := uint8(0); i < paramCount; i++ {
			count := r.u2()
			annotations := make([]Annotation, 0, count)
			for j := uint16(0); j < count; j++ {
				ann, err := decodeAnnotation(r)
				if err != nil {
					return nil, err
				}
				annotations = append(annotations, ann)
			}
			params = append(params, annotations)
		}
		attr = &RuntimeParameterAnnotationsAttribute{
			Visible:    name == "RuntimeVisibleParameterAnnotations",
			Parameters: params,
		}

	case "AnnotationDefault":
		value, err := decodeElementValue(r)
		if err != nil {
			return nil, err
		}
		attr = &AnnotationDefaultAttribute{Value: value}

	case "BootstrapMethods":
		count := r.u2()
		methods := make([]BootstrapMethod, count)
		for i := range methods {
			methodRef := r.u2()
			argCount := r.u2()
			args := make([]uint16, argCount)
			for j := range args {
				args[j] = r.u2()
			}
			methods[i] = BootstrapMethod{MethodRef: methodRef, Arguments: args}
		}
		attr = &BootstrapMethodsAttribute{Methods: methods}

	default:
		return nil, fmt.Errorf("unrecognized attribute %q", name)
	}

	if r.err != nil {
		return nil, r.err
	}
	return attr, nil
}

func decodeCodeAttribute(r *reader, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	maxStack := r.u2()
	maxLocals := r.u2()
	codeLength := r.u4()
	code := r.bytes(int(codeLength))
	if r.err != nil {
		return nil, r.err
	}

	exTableLen := r.u2()
	handlers := make([]ExceptionHandler, exTableLen)
	for i := range handlers {
		handlers[i] = ExceptionHandler{
			StartPC:   r.u2(),
			EndPC:     r.u2(),
			HandlerPC: r.u2(),
			CatchType: r.u2(),
		}
	}

	attrCount := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	nested, err := parseAttributes(r, pool, attrCount)
	if err != nil {
		return nil, err
	}

	copied := make([]byte, len(code))
	copy(copied, code)

	return &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              copied,
		ExceptionHandlers: handlers,
		Attributes:        nested,
	}, nil
}

func decodeLocalVariables(r *reader) []LocalVariable {
	count := r.u2()
	vars := make([]LocalVariable, count)
	for i := range vars {
		vars[i] = LocalVariable{
			StartPC:         r.u2(),
			Length:          r.u2(),
			NameIndex:       r.u2(),
			DescriptorIndex: r.u2(),
			Slot:            r.u2(),
		}
	}
	return vars
}

func decodeVerificationType(r *reader) VerificationType {
	tag := r.u1()
	vt := VerificationType{Tag: tag}
	if tag == ItemObject || tag == ItemUninitialized {
		vt.Index = r.u2()
	}
	return vt
}

func decodeStackMapTable(r *reader) (*StackMapTableAttribute, error) {
	count := r.u2()
	frames := make([]StackMapFrame, 0, count)

	for i := uint16(0); i < count; i++ {
		frameType := r.u1()
		frame := StackMapFrame{FrameType: frameType}

		switch {
		case frameType <= 63: // same_frame
			frame.OffsetDelta = uint16(frameType)

		case frameType <= 127: // same_locals_1_stack_item_frame
			frame.OffsetDelta = uint16(frameType - 64)
			frame.Stack = []VerificationType{decodeVerificationType(r)}

		case frameType == 247: // same_locals_1_stack_item_frame_extended
			frame.OffsetDelta = r.u2()
			frame.Stack = []VerificationType{decodeVerificationType(r)}

		case frameType >= 248 && frameType <= 250: // chop_frame
			frame.OffsetDelta = r.u2()

		case frameType == 251: // same_frame_extended
			frame.OffsetDelta = r.u2()

		case frameType >= 252 && frameType <= 254: // append_frame
			frame.OffsetDelta = r.u2()
			extra := int(frameType) - 251
			for j := 0; j < extra; j++ {
				frame.Locals = append(frame.Locals, decodeVerificationType(r))
			}

		case frameType == 255: // full_frame
			frame.OffsetDelta = r.u2()
			localCount := r.u2()
			for j := uint16(0); j < localCount; j++ {
				frame.Locals = append(frame.Locals, decodeVerificationType(r))
			}
			stackCount := r.u2()
			for j := uint16(0); j < stackCount; j++ {
				frame.Stack = append(frame.Stack, decodeVerificationType(r))
			}

		default: // 128-246 are reserved
			return nil, fmt.Errorf("reserved stack map frame type %d", frameType)
		}

		if r.err != nil {
			return nil, fmt.Errorf("truncated stack map frame %d: %w", i, r.err)
		}
		frames = append(frames, frame)
	}

	return &StackMapTableAttribute{Frames: frames}, nil
}

func decodeAnnotation(r *reader) (Annotation, error) {
	ann := Annotation{TypeIndex: r.u2()}
	count := r.u2()
	for i := uint16(0); i < count; i++ {
		nameIndex := r.u2()
		value, err := decodeElementValue(r)
		if err != nil {
			return Annotation{}, err
		}
		ann.Elements = append(ann.Elements, AnnotationElement{NameIndex: nameIndex, Value: value})
	}
	if r.err != nil {
		return Annotation{}, r.err
	}
	return ann, nil
}

func decodeElementValue(r *reader) (ElementValue, error) {
	tag := r.u1()
	ev := ElementValue{Tag: tag}

	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		ev.ConstIndex = r.u2()
	case 'e':
		ev.EnumTypeIndex = r.u2()
		ev.EnumConstIndex = r.u2()
	case 'c':
		ev.ClassIndex = r.u2()
	case '@':
		ann, err := decodeAnnotation(r)
		if err != nil {
			return ElementValue{}, err
		}
		ev.Annotation = &ann
	case '[':
		count := r.u2()
		for i := uint16(0); i < count; i++ {
			nested, err := decodeElementValue(r)
			if err != nil {
				return ElementValue{}, err
			}
			ev.Values = append(ev.Values, nested)
		}
	default:
		return ElementValue{}, fmt.Errorf("unknown element_value tag %q", tag)
	}

	if r.err != nil {
		return ElementValue{}, r.err
	}
	return ev, nil
}
