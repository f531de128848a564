// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Counters is a snapshot of server occupancy: registered sessions, active
// chat pairs, and total messages relayed since startup.
type Counters struct {
	RegistrySize    int
	ActivePairs     int
	MessagesRelayed uint64
}

// Header names the CSV columns in the same order Counters' fields appear.
func (Counters) Header() []string {
	return []string{"RegistrySize", "ActivePairs", "MessagesRelayed"}
}

// ToSlice renders the counters as CSV field values.
func (c Counters) ToSlice() []string {
	return []string{
		fmt.Sprint(c.RegistrySize),
		fmt.Sprint(c.ActivePairs),
		fmt.Sprint(c.MessagesRelayed),
	}
}

// Source is implemented by whatever owns the live counters; scpserver.Hub
// satisfies it.
type Source interface {
	Stats() Counters
}

// StatsLogger periodically appends a Counters snapshot to a CSV file: split
// path into dir/file, format the filename through time.Now, write a header
// only into an empty file, append one row per tick. Returns immediately if
// path or interval is unset.
func StatsLogger(path string, interval int, source Source) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, Counters{}.Header()...)); err != nil {
				log.Println(err)
			}
		}
		counters := source.Stats()
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, counters.ToSlice()...)); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}
