// Package native registers the host-side implementations of the native
// methods declared by standard library classes loaded from real class
// archives. The registry resolves them through the derived JNI-style
// names, so the bindings here only take effect for methods the class
// files mark native.
package native

import (
	"math"
	"time"

	"github.com/glaciervm/glacier/pkg/vm"
)

// Install binds the full builtin set into a VM's native registry.
func Install(v *vm.VM) {
	reg := v.Natives()

	installRegisterNatives(reg)
	installObject(reg)
	installSystem(reg)
	installBitCasts(reg)
	installMath(reg)
	installThread(reg)
}

// installRegisterNatives binds the registerNatives/initIDs no-op
// pattern used across the standard library.
func installRegisterNatives(reg *vm.NativeRegistry) {
	noop := func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
		return vm.VoidValue(), nil
	}
	for _, class := range []string{
		"java/lang/Object",
		"java/lang/Class",
		"java/lang/System",
		"java/lang/Thread",
		"java/lang/ClassLoader",
	} {
		reg.Register(class, "registerNatives", "()V", noop)
	}
	reg.Register("java/io/FileDescriptor", "initIDs", "()V", noop)
	reg.Register("java/io/FileInputStream", "initIDs", "()V", noop)
	reg.Register("java/io/FileOutputStream", "initIDs", "()V", noop)
}

func installObject(reg *vm.NativeRegistry) {
	reg.Register("java/lang/Object", "hashCode", "()I",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.IntValue(recv.IdentityHash()), nil
		})
	reg.Register("java/lang/Object", "getClass", "()Ljava/lang/Class;",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.RefValue(recv.Class().Mirror), nil
		})
	reg.Register("java/lang/Object", "clone", "()Ljava/lang/Object;",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.RefValue(env.VM.Heap().Clone(recv)), nil
		})
	reg.Register("java/lang/Object", "wait", "(J)V",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			// Parks: release the block mutex so a collection cycle can
			// proceed while the thread waits.
			err := env.Blocking(func() error {
				return recv.Monitor().Wait(env.Thread, args[0].Long())
			})
			if err != nil {
				return vm.Value{}, env.Throw(vm.ClassIllegalMonitorState, "current thread not owner")
			}
			return vm.VoidValue(), nil
		})
	reg.Register("java/lang/Object", "notify", "()V",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			if err := recv.Monitor().Notify(env.Thread); err != nil {
				return vm.Value{}, env.Throw(vm.ClassIllegalMonitorState, "current thread not owner")
			}
			return vm.VoidValue(), nil
		})
	reg.Register("java/lang/Object", "notifyAll", "()V",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			if err := recv.Monitor().NotifyAll(env.Thread); err != nil {
				return vm.Value{}, env.Throw(vm.ClassIllegalMonitorState, "current thread not owner")
			}
			return vm.VoidValue(), nil
		})
	reg.Register("java/lang/String", "intern", "()Ljava/lang/String;",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.RefValue(env.VM.Intern(recv.GoString())), nil
		})
}

func installSystem(reg *vm.NativeRegistry) {
	reg.Register("java/lang/System", "currentTimeMillis", "()J",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.LongValue(time.Now().UnixMilli()), nil
		})
	reg.Register("java/lang/System", "nanoTime", "()J",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.LongValue(time.Now().UnixNano()), nil
		})
	reg.Register("java/lang/System", "identityHashCode", "(Ljava/lang/Object;)I",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			if args[0].Ref() == nil {
				return vm.IntValue(0), nil
			}
			return vm.IntValue(args[0].Ref().IdentityHash()), nil
		})
}

func installBitCasts(reg *vm.NativeRegistry) {
	reg.Register("java/lang/Float", "floatToRawIntBits", "(F)I",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.IntValue(int32(math.Float32bits(args[0].Float()))), nil
		})
	reg.Register("java/lang/Float", "intBitsToFloat", "(I)F",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.FloatValue(math.Float32frombits(uint32(args[0].Int()))), nil
		})
	reg.Register("java/lang/Double", "doubleToRawLongBits", "(D)J",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.LongValue(int64(math.Float64bits(args[0].Double()))), nil
		})
	reg.Register("java/lang/Double", "longBitsToDouble", "(J)D",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.DoubleValue(math.Float64frombits(uint64(args[0].Long()))), nil
		})
}

func installMath(reg *vm.NativeRegistry) {
	unary := func(fn func(float64) float64) vm.NativeFunc {
		return func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.DoubleValue(fn(args[0].Double())), nil
		}
	}
	reg.Register("java/lang/Math", "sqrt", "(D)D", unary(math.Sqrt))
	reg.Register("java/lang/Math", "sin", "(D)D", unary(math.Sin))
	reg.Register("java/lang/Math", "cos", "(D)D", unary(math.Cos))
	reg.Register("java/lang/Math", "log", "(D)D", unary(math.Log))
	reg.Register("java/lang/Math", "exp", "(D)D", unary(math.Exp))
	reg.Register("java/lang/Math", "pow", "(DD)D",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.DoubleValue(math.Pow(args[0].Double(), args[1].Double())), nil
		})
}

func installThread(reg *vm.NativeRegistry) {
	reg.Register("java/lang/Thread", "currentThread", "()Ljava/lang/Thread;",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.RefValue(env.Thread.JavaObject()), nil
		})
	reg.Register("java/lang/Thread", "sleep", "(J)V",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			// Parks like Object.wait: drop the block mutex for the
			// duration.
			_ = env.Blocking(func() error {
				time.Sleep(time.Duration(args[0].Long()) * time.Millisecond)
				return nil
			})
			return vm.VoidValue(), nil
		})
	reg.Register("java/lang/Thread", "start0", "()V",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			return vm.VoidValue(), env.VM.StartJavaThread(recv)
		})
	reg.Register("java/lang/Thread", "isAlive", "()Z",
		func(env *vm.Env, recv *vm.Object, args []vm.Value) (vm.Value, error) {
			other := env.VM.ThreadForObject(recv)
			return vm.BooleanValue(other != nil && other.IsAlive()), nil
		})
}
