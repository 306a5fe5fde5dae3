/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


// Command gridsubset serves subsets of gridded climate datasets.
package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset/subsetutil"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	})
}

func main() {
	if err := subsetutil.Root.Execute(); err != nil {
		logrus.WithError(err).Error("gridsubset failed")
		os.Exit(1)
	}
}
