package lending

import "context"

var ctxBG = context.Background()
