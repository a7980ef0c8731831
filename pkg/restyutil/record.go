package restyutil

import (
	"fmt"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives a formatted dump of every request/response pair.
type Output interface {
	Write(id string, contents string)
}

// RecordMessages dumps every response the client receives (along with its request)
// to output, ids are sequential.
func RecordMessages(client *resty.Client, output Output) {
	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := atomic.AddUint64(&idcounter, 1)
		output.Write(fmt.Sprintf("%04d.txt", id), formatHttpMessage(res))
		return nil
	})
}
