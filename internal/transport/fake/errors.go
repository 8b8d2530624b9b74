package fake

import "errors"

var (
	errScan                    = errors.New("fake: scan failed")
	errConnect                 = errors.New("fake: connect failed")
	errServiceDiscovery        = errors.New("fake: service discovery failed")
	errCharacteristicDiscovery = errors.New("fake: characteristic discovery failed")
	errSubscribe               = errors.New("fake: subscribe failed")
)
