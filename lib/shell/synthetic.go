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
	"time"
)

// Persona is the set of facts every simulated command agrees on, so
// `uname`, `hostname`, `/etc/os-release` and the shell prompt never
// contradict each other.
type Persona struct {
	Hostname        string
	KernelVersion   string
	Architecture    string
	Distro          string
	DistroVersion   string
	DistroCodename  string
	CPUModel        string
	CPUCores        int
	MemTotalKB      int
	BootTime        time.Time
}

// DefaultPersona matches a vanilla Ubuntu 22.04 install, a plausible
// default target for an SSH brute-force bot.
func DefaultPersona() Persona {
	return Persona{
		Hostname:       "ubuntu",
		KernelVersion:  "5.15.0-76-generic",
		Architecture:   "x86_64",
		Distro:         "Ubuntu",
		DistroVersion:  "22.04.3 LTS (Jammy Jellyfish)",
		DistroCodename: "jammy",
		CPUModel:       "Intel(R) Xeon(R) CPU E5-2686 v4 @ 2.30GHz",
		CPUCores:       2,
		MemTotalKB:     4_039_728,
		BootTime:       time.Now().Add(-37 * time.Hour),
	}
}

// DefaultTree builds the baseline set of synthetic files a freshly booted
// Ubuntu box would have, for handing to NewFS.
func DefaultTree(p Persona) map[string]*Node {
	now := time.Now()
	file := func(content string) *Node {
		return &Node{Kind: NodeFile, Content: []byte(content), Mode: 0644, ModTime: now}
	}

	tree := map[string]*Node{
		"/root":        {Kind: NodeDir, Mode: 0700, ModTime: now},
		"/home":        {Kind: NodeDir, Mode: 0755, ModTime: now},
		"/tmp":         {Kind: NodeDir, Mode: 01777, ModTime: now},
		"/var/log":     {Kind: NodeDir, Mode: 0755, ModTime: now},
		"/etc":         {Kind: NodeDir, Mode: 0755, ModTime: now},
		"/proc":        {Kind: NodeDir, Mode: 0555, ModTime: now},
		"/etc/os-release": file(fmt.Sprintf(
			"NAME=\"%s\"\nVERSION=\"%s\"\nID=ubuntu\nID_LIKE=debian\nPRETTY_NAME=\"%s %s\"\nVERSION_CODENAME=%s\n",
			p.Distro, p.DistroVersion, p.Distro, p.DistroVersion, p.DistroCodename,
		)),
		"/etc/passwd": file(
			"root:x:0:0:root:/root:/bin/bash\n" +
				"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n" +
				"bin:x:2:2:bin:/bin:/usr/sbin/nologin\n" +
				"sys:x:3:3:sys:/dev:/usr/sbin/nologin\n" +
				"sync:x:4:65534:sync:/bin:/bin/sync\n" +
				"nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin\n" +
				"ubuntu:x:1000:1000:Ubuntu:/home/ubuntu:/bin/bash\n",
		),
		"/etc/shadow": file(
			"root:!:19700:0:99999:7:::\n" +
				"ubuntu:!:19700:0:99999:7:::\n",
		),
		"/proc/cpuinfo": file(cpuinfo(p)),
		"/proc/meminfo": file(meminfo(p)),
	}

	return tree
}

func cpuinfo(p Persona) string {
	var out string
	for i := 0; i < p.CPUCores; i++ {
		out += fmt.Sprintf(
			"processor\t: %d\nvendor_id\t: GenuineIntel\ncpu family\t: 6\nmodel name\t: %s\ncpu MHz\t\t: 2300.000\ncache size\t: 30720 KB\n\n",
			i, p.CPUModel,
		)
	}
	return out
}

func meminfo(p Persona) string {
	free := int(float64(p.MemTotalKB) * 0.62)
	avail := int(float64(p.MemTotalKB) * 0.71)
	return fmt.Sprintf(
		"MemTotal:       %8d kB\nMemFree:        %8d kB\nMemAvailable:   %8d kB\nSwapTotal:             0 kB\nSwapFree:              0 kB\n",
		p.MemTotalKB, free, avail,
	)
}
