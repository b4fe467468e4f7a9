package swarmtest

const exampleDoc = `
program:
  - {op: signal, label: A}
  - {op: repeat, times: 2, body: [{op: move, args: [1, 1, 3]}]}
  - {op: unsignal, label: A}
  - {op: move, args: [1, 1, 3]}
`

const wanderDoc = `
regions:
  - {label: Z1, shape: circle, args: [0, 0, 5]}
  - {label: Z2, shape: rectangle, args: [10, 10, 4, 2]}
program:
  - {op: signal, label: A}
  - op: forever
    body:
      - {op: move_random, args: [-1, 1, -1, 1, 2]}
      - {op: follow, label: A, args: [4, 1]}
`
