package crypto

import "github.com/sirupsen/logrus"

// log is the package's structured logger, component-tagged the same way
// every other package in this module tags its entries.
var log = logrus.WithField("component", "crypto")
