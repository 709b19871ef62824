// Copyright 2026 Gravitational, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shell

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// errExitShell is returned by a command handler (the `exit` command) to
// signal the interpreter loop should close the channel. Ctrl-D on an empty
// line is handled by Interpreter.Serve directly.
var errExitShell = fmt.Errorf("exit shell")

// Session is the mutable per-connection shell state a command handler may
// read or write. It never touches the host filesystem or process table.
type Session struct {
	Overlay *Overlay
	Persona Persona
	User    string
	Cwd     string
	Env     map[string]string
	History []string
	Status  int // simulated $?
}

// NewSession starts a session rooted the way spec.md §4.2 describes:
// /root for root, /home/{user} otherwise.
func NewSession(overlay *Overlay, persona Persona, user string) *Session {
	cwd := "/home/" + user
	if user == "root" {
		cwd = "/root"
	}
	return &Session{
		Overlay: overlay,
		Persona: persona,
		User:    user,
		Cwd:     cwd,
		Env: map[string]string{
			"HOME":  cwd,
			"SHELL": "/bin/bash",
			"USER":  user,
			"PATH":  "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"PWD":   cwd,
		},
	}
}

// Prompt renders "{user}@{hostname}:{cwd}$ ", showing root's /root as "~".
func (s *Session) Prompt() string {
	cwd := s.Cwd
	if s.User == "root" && cwd == "/root" {
		cwd = "~"
	}
	return fmt.Sprintf("%s@%s:%s$ ", s.User, s.Persona.Hostname, cwd)
}

func (s *Session) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean(path.Join(s.Cwd, p))
}

// commandFunc is a simulated command handler. args[0] is the command name
// itself. Output goes to out; handlers set s.Status before returning.
type commandFunc func(s *Session, args []string, out io.Writer) error

var commandTable map[string]commandFunc

func init() {
	commandTable = map[string]commandFunc{
		"ls":        cmdLs,
		"cd":        cmdCd,
		"pwd":       cmdPwd,
		"cat":       cmdCat,
		"echo":      cmdEcho,
		"whoami":    cmdWhoami,
		"id":        cmdID,
		"uname":     cmdUname,
		"hostname":  cmdHostname,
		"uptime":    cmdUptime,
		"ps":        cmdPs,
		"env":       cmdEnv,
		"export":    cmdExport,
		"history":   cmdHistory,
		"clear":     cmdClear,
		"exit":      cmdExit,
		"wget":      cmdFetchTool,
		"curl":      cmdFetchTool,
		"sudo":      cmdSudo,
		"su":        cmdSu,
		"apt":       cmdApt,
		"apt-get":   cmdApt,
		"which":     cmdWhich,
		"touch":     cmdTouch,
		"rm":        cmdRm,
		"mkdir":     cmdMkdir,
		"rmdir":     cmdRmdir,
		"mv":        cmdMv,
		"cp":        cmdCp,
	}
}

// Dispatch resolves args[0] against the command table and runs it,
// returning errExitShell when the session should end.
func Dispatch(s *Session, args []string, out io.Writer) error {
	if len(args) == 0 {
		return nil
	}
	fn, ok := commandTable[args[0]]
	if !ok {
		fmt.Fprintf(out, "%s: command not found\n", args[0])
		s.Status = 127
		return nil
	}
	return fn(s, args, out)
}

func cmdLs(s *Session, args []string, out io.Writer) error {
	dir := s.Cwd
	long := false
	var target string
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "-") {
			if strings.ContainsAny(a, "l") {
				long = true
			}
			continue
		}
		target = a
	}
	if target != "" {
		dir = s.resolve(target)
	}

	names, ok := s.Overlay.List(dir)
	if !ok {
		fmt.Fprintf(out, "ls: cannot access '%s': No such file or directory\n", target)
		s.Status = 2
		return nil
	}

	if !long {
		fmt.Fprintln(out, strings.Join(names, "  "))
		s.Status = 0
		return nil
	}

	for _, name := range names {
		n, ok := s.Overlay.Lookup(path.Join(dir, name))
		if !ok {
			continue
		}
		kind := "-"
		if n.Kind == NodeDir {
			kind = "d"
		}
		fmt.Fprintf(out, "%s%s 1 %s %s %8s %s %s\n",
			kind, n.Mode.String()[1:], s.User, s.User,
			humanize.Bytes(uint64(len(n.Content))), n.ModTime.Format("Jan _2 15:04"), name)
	}
	s.Status = 0
	return nil
}

func cmdCd(s *Session, args []string, out io.Writer) error {
	target := s.Env["HOME"]
	if len(args) > 1 {
		target = args[1]
	}
	resolved := s.resolve(target)
	n, ok := s.Overlay.Lookup(resolved)
	if !ok || n.Kind != NodeDir {
		fmt.Fprintf(out, "cd: %s: No such file or directory\n", target)
		s.Status = 1
		return nil
	}
	s.Cwd = resolved
	s.Env["PWD"] = resolved
	s.Status = 0
	return nil
}

func cmdPwd(s *Session, _ []string, out io.Writer) error {
	fmt.Fprintln(out, s.Cwd)
	s.Status = 0
	return nil
}

func cmdCat(s *Session, args []string, out io.Writer) error {
	if len(args) < 2 {
		s.Status = 0
		return nil
	}
	for _, a := range args[1:] {
		p := s.resolve(a)
		if p == "/etc/shadow" && s.User != "root" {
			fmt.Fprintf(out, "cat: %s: Permission denied\n", a)
			s.Status = 1
			continue
		}
		n, ok := s.Overlay.Lookup(p)
		if !ok || n.Kind != NodeFile {
			fmt.Fprintf(out, "cat: %s: No such file or directory\n", a)
			s.Status = 1
			continue
		}
		out.Write(n.Content)
		s.Status = 0
	}
	return nil
}

func cmdEcho(s *Session, args []string, out io.Writer) error {
	parts := args[1:]
	for i, a := range parts {
		if a == "$?" {
			parts[i] = fmt.Sprintf("%d", s.Status)
		}
	}
	fmt.Fprintln(out, strings.Join(parts, " "))
	s.Status = 0
	return nil
}

func cmdWhoami(s *Session, _ []string, out io.Writer) error {
	fmt.Fprintln(out, s.User)
	s.Status = 0
	return nil
}

func cmdID(s *Session, _ []string, out io.Writer) error {
	uid, gid := 1000, 1000
	if s.User == "root" {
		uid, gid = 0, 0
	}
	fmt.Fprintf(out, "uid=%d(%s) gid=%d(%s) groups=%d(%s)\n", uid, s.User, gid, s.User, gid, s.User)
	s.Status = 0
	return nil
}

func cmdUname(s *Session, args []string, out io.Writer) error {
	if len(args) > 1 && args[1] == "-a" {
		fmt.Fprintf(out, "Linux %s %s #1 SMP %s %s GNU/Linux\n",
			s.Persona.Hostname, s.Persona.KernelVersion, time.Now().Format("Mon Jan 2 15:04:05 UTC 2006"), s.Persona.Architecture)
	} else {
		fmt.Fprintln(out, "Linux")
	}
	s.Status = 0
	return nil
}

func cmdHostname(s *Session, _ []string, out io.Writer) error {
	fmt.Fprintln(out, s.Persona.Hostname)
	s.Status = 0
	return nil
}

func cmdUptime(s *Session, _ []string, out io.Writer) error {
	up := time.Since(s.Persona.BootTime)
	fmt.Fprintf(out, " %s up %s,  1 user,  load average: 0.00, 0.01, 0.05\n",
		time.Now().Format("15:04:05"), humanize.RelTime(s.Persona.BootTime, time.Now(), "", ""))
	_ = up
	s.Status = 0
	return nil
}

func cmdPs(s *Session, _ []string, out io.Writer) error {
	fmt.Fprintln(out, "  PID TTY          TIME CMD")
	fmt.Fprintln(out, "    1 pts/0    00:00:00 bash")
	s.Status = 0
	return nil
}

func cmdEnv(s *Session, _ []string, out io.Writer) error {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, s.Env[k])
	}
	s.Status = 0
	return nil
}

func cmdExport(s *Session, args []string, _ io.Writer) error {
	for _, a := range args[1:] {
		if kv := strings.SplitN(a, "=", 2); len(kv) == 2 {
			s.Env[kv[0]] = kv[1]
		}
	}
	s.Status = 0
	return nil
}

func cmdHistory(s *Session, _ []string, out io.Writer) error {
	for i, cmd := range s.History {
		fmt.Fprintf(out, "%5d  %s\n", i+1, cmd)
	}
	s.Status = 0
	return nil
}

func cmdClear(s *Session, _ []string, out io.Writer) error {
	fmt.Fprint(out, "\x1b[H\x1b[2J")
	s.Status = 0
	return nil
}

func cmdExit(s *Session, _ []string, _ io.Writer) error {
	return errExitShell
}

func cmdFetchTool(s *Session, args []string, out io.Writer) error {
	if len(args) < 2 {
		fmt.Fprintf(out, "%s: missing URL\n", args[0])
		s.Status = 1
		return nil
	}
	fmt.Fprintf(out, "Connecting to %s... failed: Connection refused.\n", args[1])
	s.Status = 1
	return nil
}

func cmdSudo(s *Session, args []string, out io.Writer) error {
	if len(args) < 2 {
		s.Status = 0
		return nil
	}
	return Dispatch(s, args[1:], out)
}

func cmdSu(s *Session, args []string, out io.Writer) error {
	target := "root"
	if len(args) > 1 {
		target = args[1]
	}
	s.User = target
	s.Env["USER"] = target
	if target == "root" {
		s.Cwd = "/root"
	} else {
		s.Cwd = "/home/" + target
	}
	s.Env["HOME"] = s.Cwd
	s.Status = 0
	return nil
}

func cmdApt(s *Session, args []string, out io.Writer) error {
	if len(args) < 2 {
		s.Status = 0
		return nil
	}
	switch args[1] {
	case "update":
		fmt.Fprintln(out, "Reading package lists... Done")
	case "install", "upgrade":
		fmt.Fprintln(out, "Reading package lists... Done")
		fmt.Fprintln(out, "0 upgraded, 0 newly installed, 0 to remove and 0 not upgraded.")
	default:
		fmt.Fprintf(out, "E: Invalid operation %s\n", args[1])
		s.Status = 1
		return nil
	}
	s.Status = 0
	return nil
}

func cmdWhich(s *Session, args []string, out io.Writer) error {
	if len(args) < 2 {
		s.Status = 0
		return nil
	}
	if _, ok := commandTable[args[1]]; ok {
		fmt.Fprintf(out, "/usr/bin/%s\n", args[1])
		s.Status = 0
		return nil
	}
	s.Status = 1
	return nil
}

func cmdTouch(s *Session, args []string, out io.Writer) error {
	for _, a := range args[1:] {
		p := s.resolve(a)
		if _, ok := s.Overlay.Lookup(p); !ok {
			s.Overlay.WriteFile(p, nil)
		}
	}
	s.Status = 0
	return nil
}

func cmdRm(s *Session, args []string, out io.Writer) error {
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "-") {
			continue
		}
		s.Overlay.Delete(s.resolve(a))
	}
	s.Status = 0
	return nil
}

func cmdMkdir(s *Session, args []string, out io.Writer) error {
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "-") {
			continue
		}
		s.Overlay.Mkdir(s.resolve(a))
	}
	s.Status = 0
	return nil
}

func cmdRmdir(s *Session, args []string, out io.Writer) error {
	for _, a := range args[1:] {
		s.Overlay.Delete(s.resolve(a))
	}
	s.Status = 0
	return nil
}

func cmdMv(s *Session, args []string, out io.Writer) error {
	if len(args) < 3 {
		s.Status = 1
		return nil
	}
	src := s.resolve(args[1])
	dst := s.resolve(args[2])
	n, ok := s.Overlay.Lookup(src)
	if !ok {
		fmt.Fprintf(out, "mv: cannot stat '%s': No such file or directory\n", args[1])
		s.Status = 1
		return nil
	}
	s.Overlay.Write(dst, n)
	s.Overlay.Delete(src)
	s.Status = 0
	return nil
}

func cmdCp(s *Session, args []string, out io.Writer) error {
	if len(args) < 3 {
		s.Status = 1
		return nil
	}
	src := s.resolve(args[1])
	dst := s.resolve(args[2])
	n, ok := s.Overlay.Lookup(src)
	if !ok {
		fmt.Fprintf(out, "cp: cannot stat '%s': No such file or directory\n", args[1])
		s.Status = 1
		return nil
	}
	cp := *n
	s.Overlay.Write(dst, &cp)
	s.Status = 0
	return nil
}
