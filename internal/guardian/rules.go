package guardian

import (
	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/model"
)

// Frames of JVM threads as sampled by async-profiler, root to leaf.
var vmThreadPath = []string{"start_thread", "thread_native_entry", "Thread::call_run"}

var (
	nativeOnly    = Preconditions{EventSource: model.SourceAsyncProfiler}
	allocationRun = Preconditions{EventKinds: []model.RecordKind{model.KindAllocation}}
	cppFrames     = []frame.Type{frame.TypeCPP}
	javaFrames    = []frame.Type{frame.TypeJITCompiled, frame.TypeC1Compiled, frame.TypeInlined, frame.TypeInterpreted, frame.TypeNative}
)

func gcGuard(name string, gcs []model.GarbageCollector, m Matcher, tuning string) Guard {
	return Guard{
		Name:        name,
		Category:    CategoryGarbageCollection,
		Tree:        model.KindExecution,
		TargetTypes: cppFrames,
		Matcher:     m,
		MatchPolicy: AllMatches,
		Threshold:   0.10,
		Preconditions: Preconditions{
			EventSource:       model.SourceAsyncProfiler,
			GarbageCollectors: gcs,
		},
		Summary: `{{.Rule}}: garbage collector threads consumed {{printf "%.2f" .Percent}}% of CPU samples ({{.ObservedLabel}} of {{.TotalLabel}}).`,
		Explanation: `The collector's native frames account for more than {{printf "%.2f" .ThresholdPercent}}% of the samples. ` +
			`Time spent collecting is time the application threads compete with for CPU.`,
		Solution: tuning,
	}
}

// DefaultGuards returns the built-in rule library in evaluation order.
func DefaultGuards() []Guard {
	return []Guard{
		{
			Name:          "JIT Compilation",
			Category:      CategoryJIT,
			Tree:          model.KindExecution,
			TargetTypes:   cppFrames,
			Matcher:       Exact("CompileBroker::compiler_thread_loop"),
			MatchPolicy:   FirstMatch,
			Threshold:     0.20,
			Preconditions: nativeOnly,
			Summary:       `JIT compiler threads consumed {{printf "%.2f" .Percent}}% of CPU samples ({{.ObservedLabel}} of {{.TotalLabel}}).`,
			Explanation: `C1/C2 compilation exceeds {{printf "%.2f" .ThresholdPercent}}% of the samples. ` +
				`This is expected during warm-up; a steady state with heavy compilation points at deoptimization loops or a too small code cache.`,
			Solution: `Profile after warm-up, check -XX:ReservedCodeCacheSize, and look for repeated deoptimization of the same methods.`,
		},
		gcGuard("Serial Garbage Collection", []model.GarbageCollector{model.GCSerial},
			AnyPrefix("DefNewGeneration::", "TenuredGeneration::", "SerialHeap::", "GenCollectedHeap::", "GenMarkSweep::"),
			`Serial GC stops every application thread for each collection. Use G1 or Parallel GC for heaps above a few hundred megabytes, or reduce the allocation rate.`),
		gcGuard("Parallel Garbage Collection", []model.GarbageCollector{model.GCParallel},
			AnyPrefix("PSScavenge::", "PSParallelCompact::", "PSPromotionManager::", "ParallelScavengeHeap::", "PSOldGen::"),
			`Increase the young generation (-Xmn) if objects die young, or reduce the allocation rate. Consider G1 if pause times matter.`),
		gcGuard("G1 Garbage Collection", []model.GarbageCollector{model.GCG1},
			Prefix("G1"),
			`Check the allocation flamegraph for the biggest allocators, size the heap so that mixed collections are rare, and review -XX:MaxGCPauseMillis.`),
		gcGuard("ZGC Garbage Collection", []model.GarbageCollector{model.GCZ, model.GCGenerationalZ},
			AnyPrefix("ZThread::", "ZWorker", "ZDriver", "ZMark", "ZRelocate", "ZBarrier", "ZHeap::", "ZDirector"),
			`ZGC works concurrently and competes with application threads for CPU. Give the heap more headroom or use generational ZGC (-XX:+ZGenerational).`),
		gcGuard("Shenandoah Garbage Collection", []model.GarbageCollector{model.GCShenandoah},
			Prefix("Shenandoah"),
			`Shenandoah runs concurrently with the application. Give the heap more headroom or reduce the allocation rate to avoid degenerated cycles.`),
		{
			Name:        "Safepoints",
			Category:    CategoryVirtualMachine,
			Tree:        model.KindExecution,
			TargetTypes: cppFrames,
			Matcher: Or(
				AnyPrefix("SafepointSynchronize::", "SafepointMechanism::process"),
				Exact("ThreadBlockInVM::ThreadBlockInVM"),
			),
			MatchPolicy:   AllMatches,
			Threshold:     0.05,
			Preconditions: nativeOnly,
			Summary:       `Reaching and leaving safepoints took {{printf "%.2f" .Percent}}% of CPU samples ({{.ObservedLabel}}).`,
			Explanation:   `Threads spend more than {{printf "%.2f" .ThresholdPercent}}% of the samples synchronizing on safepoints, usually because of long counted loops or frequent VM operations.`,
			Solution:      `Enable -Xlog:safepoint to find the operations that trigger them, and check for biased locking revocation or frequent thread dumps.`,
		},
		{
			Name:     "VM Operations",
			Category: CategoryVirtualMachine,
			Tree:     model.KindExecution,
			Traversal: func(Matcher) Traversable {
				return NamedHop(vmThreadPath, Exact("VMThread::run"))
			},
			Threshold:     0.05,
			Preconditions: nativeOnly,
			Summary:       `The VM thread was busy for {{printf "%.2f" .Percent}}% of CPU samples ({{.ObservedLabel}}).`,
			Explanation:   `VM operations run at safepoints and block every Java thread while they execute.`,
			Solution:      `Look at which VM_Operation dominates under VMThread::run. Heap dumps, class redefinition and deoptimization are common causes.`,
		},
		{
			Name:          "Deoptimization",
			Category:      CategoryJIT,
			Tree:          model.KindExecution,
			TargetTypes:   cppFrames,
			Matcher:       Prefix("Deoptimization::"),
			MatchPolicy:   AllMatches,
			Threshold:     0.02,
			Preconditions: nativeOnly,
			Summary:       `Deoptimization took {{printf "%.2f" .Percent}}% of CPU samples across {{.Matches}} call sites.`,
			Explanation:   `Compiled code is thrown away and methods fall back to the interpreter, typically because a speculative optimization failed.`,
			Solution:      `Run with -XX:+UnlockDiagnosticVMOptions -XX:+LogCompilation to find the failing speculation, often a megamorphic call site or an unstable branch.`,
		},
		{
			Name:        "Exceptions",
			Category:    CategoryApplication,
			Tree:        model.KindExecution,
			TargetTypes: javaFrames,
			Matcher:     Exact("java.lang.Throwable#fillInStackTrace"),
			MatchPolicy: AllMatches,
			Threshold:   0.03,
			Summary:     `Filling in exception stack traces took {{printf "%.2f" .Percent}}% of samples ({{.ObservedLabel}}).`,
			Explanation: `Exceptions are expensive to create because the stack trace is captured eagerly. ` +
				`Using them for control flow shows up as Throwable#fillInStackTrace in the profile.`,
			Solution: `Avoid exceptions on hot paths, or create them without a stack trace (override fillInStackTrace or use the writableStackTrace constructor).`,
		},
		{
			Name:        "HashMap Collisions",
			Category:    CategoryApplication,
			Tree:        model.KindExecution,
			TargetTypes: javaFrames,
			Matcher: Or(
				Named("java.util.HashMap$TreeNode#putTreeVal", "java.util.HashMap#putVal"),
				Named("java.util.HashMap$TreeNode#getTreeNode", "java.util.HashMap#getNode"),
			),
			MatchPolicy: AllMatches,
			Threshold:   0.02,
			Summary:     `Tree bins of HashMap took {{printf "%.2f" .Percent}}% of samples in {{.Matches}} call sites.`,
			Explanation: `HashMap converts a bucket into a tree once it holds too many colliding keys. ` +
				`Time in TreeNode lookups means keys with poor or constant hashCode implementations.`,
			Solution: `Fix hashCode of the key type so that it spreads values, or use keys with a well distributed hash.`,
		},
		{
			Name:        "Regular Expression Compilation",
			Category:    CategoryApplication,
			Tree:        model.KindExecution,
			TargetTypes: javaFrames,
			Matcher:     Exact("java.util.regex.Pattern#compile"),
			MatchPolicy: AllMatches,
			Threshold:   0.02,
			Summary:     `Compiling regular expressions took {{printf "%.2f" .Percent}}% of samples ({{.ObservedLabel}}).`,
			Explanation: `Pattern#compile runs on every call to String#matches, String#split with a regex or String#replaceAll.`,
			Solution:    `Compile the pattern once into a static final Pattern and reuse it.`,
		},
		{
			Name:        "Class Loading",
			Category:    CategoryVirtualMachine,
			Tree:        model.KindExecution,
			Matcher:     Or(Exact("java.lang.ClassLoader#loadClass"), AnyPrefix("SystemDictionary::resolve", "ClassLoader::load_class")),
			MatchPolicy: AllMatches,
			Threshold:   0.05,
			Summary:     `Class loading took {{printf "%.2f" .Percent}}% of samples ({{.ObservedLabel}}).`,
			Explanation: `Classes keep being loaded after start-up, typically through reflection, proxies or generated code.`,
			Solution:    `Cache reflective lookups and generated classes, and check for class loaders created per request.`,
		},
		{
			Name:        "Log4j Logging",
			Category:    CategoryApplication,
			Tree:        model.KindExecution,
			TargetTypes: javaFrames,
			Matcher:     Prefix("org.apache.logging.log4j."),
			MatchPolicy: AllMatches,
			Threshold:   0.05,
			Summary:     `Log4j took {{printf "%.2f" .Percent}}% of samples ({{.ObservedLabel}}).`,
			Explanation: `Logging is a significant share of the work, either because of the volume or because of synchronous appenders and location information.`,
			Solution:    `Lower the log level on hot paths, use asynchronous loggers, and avoid %L/%M/%C patterns that capture caller location.`,
		},
		{
			Name:          "Kernel Time",
			Category:      CategoryVirtualMachine,
			Tree:          model.KindExecution,
			Matcher:       OfType(frame.TypeKernel),
			MatchPolicy:   AllMatches,
			Threshold:     0.20,
			Informational: true,
			Preconditions: nativeOnly,
			Summary:       `Kernel frames account for {{printf "%.2f" .Percent}}% of samples ({{.ObservedLabel}}).`,
			Explanation:   `A large share of time is spent in the kernel: system calls, page faults or scheduling.`,
			Solution:      `Look at the kernel subtrees for I/O or memory mapping patterns. This is informational and may be expected for I/O bound services.`,
		},
		{
			Name:        "Boxing Allocation",
			Category:    CategoryAllocation,
			Tree:        model.KindAllocation,
			TargetTypes: javaFrames,
			Matcher: AnyOf(
				"java.lang.Integer#valueOf", "java.lang.Long#valueOf", "java.lang.Double#valueOf",
				"java.lang.Float#valueOf", "java.lang.Short#valueOf", "java.lang.Byte#valueOf",
				"java.lang.Character#valueOf", "java.lang.Boolean#valueOf",
			),
			MatchPolicy:   AllMatches,
			ResultPolicy:  ResultWeight,
			Threshold:     0.05,
			Preconditions: allocationRun,
			Summary:       `Boxing primitives allocated {{.ObservedLabel}} ({{printf "%.2f" .Percent}}% of {{.TotalLabel}}).`,
			Explanation:   `Wrapper objects are allocated for primitives stored in collections or passed through generic APIs.`,
			Solution:      `Use primitive specializations (IntStream, primitive collections) on hot paths.`,
		},
		{
			Name:          "Regular Expression Allocation",
			Category:      CategoryAllocation,
			Tree:          model.KindAllocation,
			TargetTypes:   javaFrames,
			Matcher:       Prefix("java.util.regex."),
			MatchPolicy:   AllMatches,
			ResultPolicy:  ResultWeight,
			Threshold:     0.05,
			Preconditions: allocationRun,
			Summary:       `Regular expressions allocated {{.ObservedLabel}} ({{printf "%.2f" .Percent}}% of {{.TotalLabel}}).`,
			Explanation:   `Pattern compilation and Matcher instances allocate on every use.`,
			Solution:      `Reuse compiled patterns and prefer simple string operations where a regex is not needed.`,
		},
		{
			Name:        "Exception Allocation",
			Category:    CategoryAllocation,
			Tree:        model.KindAllocation,
			TargetTypes: javaFrames,
			Matcher: Or(
				Exact("java.lang.Throwable#<init>"),
				Suffix("Exception#<init>"),
				Suffix("Error#<init>"),
			),
			MatchPolicy:   AllMatches,
			ResultPolicy:  ResultWeight,
			Threshold:     0.03,
			Preconditions: allocationRun,
			Summary:       `Creating exceptions allocated {{.ObservedLabel}} ({{printf "%.2f" .Percent}}% of {{.TotalLabel}}).`,
			Explanation:   `Each exception allocates its stack trace. Frequent exceptions cost memory as well as CPU.`,
			Solution:      `Avoid exceptions for control flow or reuse preallocated instances without stack traces.`,
		},
	}
}
