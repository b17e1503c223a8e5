package vm

import "fmt"

// Internal names of the errors and exceptions the core constructs.
const (
	ClassLinkageError               = "java/lang/LinkageError"
	ClassNoClassDefFoundError       = "java/lang/NoClassDefFoundError"
	ClassClassNotFoundException     = "java/lang/ClassNotFoundException"
	ClassNoSuchFieldError           = "java/lang/NoSuchFieldError"
	ClassNoSuchMethodError          = "java/lang/NoSuchMethodError"
	ClassAbstractMethodError        = "java/lang/AbstractMethodError"
	ClassIncompatibleClassChange    = "java/lang/IncompatibleClassChangeError"
	ClassInstantiationError         = "java/lang/InstantiationError"
	ClassUnsatisfiedLinkError       = "java/lang/UnsatisfiedLinkError"
	ClassNullPointerException       = "java/lang/NullPointerException"
	ClassArithmeticException        = "java/lang/ArithmeticException"
	ClassArrayIndexOutOfBounds      = "java/lang/ArrayIndexOutOfBoundsException"
	ClassNegativeArraySizeException = "java/lang/NegativeArraySizeException"
	ClassClassCastException         = "java/lang/ClassCastException"
	ClassIllegalMonitorState        = "java/lang/IllegalMonitorStateException"
	ClassArrayStoreException        = "java/lang/ArrayStoreException"
	ClassInterruptedException       = "java/lang/InterruptedException"
	ClassCloneNotSupported          = "java/lang/CloneNotSupportedException"
	ClassOutOfMemoryError           = "java/lang/OutOfMemoryError"
	ClassStackOverflowError         = "java/lang/StackOverflowError"
	ClassExceptionInInitializer     = "java/lang/ExceptionInInitializerError"
)

// ThrownException is the error form of a Java exception in flight.
// The interpreter routes it through the unwinder; everything else
// propagates it unchanged.
type ThrownException struct {
	Object *Object
}

func (e *ThrownException) Error() string {
	if e.Object == nil {
		return "java exception: <nil>"
	}
	msg := e.Object.ThrowableMessage()
	if msg == "" {
		return fmt.Sprintf("java exception: %s", e.Object.Class().Name)
	}
	return fmt.Sprintf("java exception: %s: %s", e.Object.Class().Name, msg)
}

// Thrown wraps an exception object as an error.
func Thrown(obj *Object) *ThrownException {
	return &ThrownException{Object: obj}
}

// AsThrown extracts the exception object if err carries one.
func AsThrown(err error) (*ThrownException, bool) {
	te, ok := err.(*ThrownException)
	return te, ok
}
