package bootstrap

// Linux x86-64 syscall numbers, declared locally in the same style as the
// teacher's own (incomplete) syscallMap for seccomp: the handful this
// package's generated stub issues, plus dup3 and exit, which it does not
// emit; not a full ABI table.
const (
	sysWrite  = 1
	sysMunmap = 11
	sysOpen   = 2
	sysMmap   = 9
	sysClose  = 3
	sysLseek  = 8
	sysDup2   = 33
	sysDup3   = 292
	sysGetpid = 39
	sysKill   = 62
	sysExit   = 60
)

const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4

	mapFixed   = 0x10
	mapPrivate = 0x02

	openReadOnly = 0x0

	sigStop = 19
)

// pageSize is the x86-64 base page size; regions and the bootstrapper's own
// load address are page-granular.
const pageSize = 0x1000

// codeWindow is the single page containing the bootstrapper's own loaded
// segment; the stub unmaps everything below and above it.
const codeWindow = pageSize

// defaultBase is the bootstrapper's preferred load address: well below any
// address a normal process mapping would occupy.
const defaultBase = 0xe0000

// topOfUserSpace is the end of the x86-64 Linux user address space (the
// kernel's TASK_SIZE, one page below the canonical limit 0x800000000000);
// the stub unmaps everything above its own code window up to here.
const topOfUserSpace = 0x00007ffffffff000
